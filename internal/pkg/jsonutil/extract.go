package jsonutil

import (
	"strings"
)

const codeFence = "```"

// ExtractObject 从模型文本中提取第一个 JSON 对象：优先 ``` 代码块，其次首个平衡的 {...}。
func ExtractObject(raw string) (string, bool) {
	return extract(raw, '{', '}')
}

// ExtractArray 与 ExtractObject 相同，但提取 [...]。
func ExtractArray(raw string) (string, bool) {
	return extract(raw, '[', ']')
}

func extract(raw string, open, close byte) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if block, ok := fenceBlock(raw); ok {
		if out, ok := balanced(block, open, close); ok {
			return out, true
		}
	}
	return balanced(raw, open, close)
}

func fenceBlock(raw string) (string, bool) {
	start := strings.Index(raw, codeFence)
	if start == -1 {
		return "", false
	}
	rest := raw[start+len(codeFence):]
	end := strings.Index(rest, codeFence)
	if end == -1 {
		return "", false
	}
	block := strings.TrimLeft(rest[:end], "\r\n")
	// 去掉语言标记，例如 ```json
	if idx := strings.Index(block, "\n"); idx != -1 {
		first := strings.TrimSpace(block[:idx])
		if first != "" && !strings.ContainsAny(first, "[{") {
			block = block[idx+1:]
		}
	}
	block = strings.TrimSpace(block)
	return block, block != ""
}

func balanced(raw string, open, close byte) (string, bool) {
	start := strings.IndexByte(raw, open)
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return strings.TrimSpace(raw[start : i+1]), true
			}
		}
	}
	return "", false
}
