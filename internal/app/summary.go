package app

import (
	"fmt"
	"strings"
	"time"
)

type StartupSummary struct {
	Exchange    string
	Assets      []string
	Interval    time.Duration
	RiskProfile string
	Model       string
	HTTPAddr    string
	Journal     string
	Managed     int
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("  交易所:     %s\n", s.Exchange)
	fmt.Printf("  资产:       %s\n", formatList(s.Assets))
	fmt.Printf("  周期:       %s\n", s.Interval)
	fmt.Printf("  风险档位:   %s\n", s.RiskProfile)
	fmt.Printf("  模型:       %s\n", orDash(s.Model))
	fmt.Printf("  HTTP:       %s\n", orDash(s.HTTPAddr))
	fmt.Printf("  交易日志:   %s\n", s.Journal)
	fmt.Printf("  已恢复托管: %d\n", s.Managed)
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
