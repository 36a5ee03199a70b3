package staticfs

import (
	"strconv"
	"strings"
)

// AcceptsGzip は Accept-Encoding ヘッダーが gzip を許可しているかを返す
//
// q=0 の指定は拒否として扱う。gzip の明示がなく "*" が許可されている場合も
// gzip を受け入れるとみなす。
func AcceptsGzip(header string) bool {
	if header == "" {
		return false
	}

	wildcard := false
	for _, element := range strings.Split(header, ",") {
		coding, quality := parseCoding(element)
		switch coding {
		case "gzip", "x-gzip":
			return quality > 0
		case "*":
			wildcard = quality > 0
		}
	}

	return wildcard
}

// parseCoding は "gzip;q=0.5" 形式の要素を分解する
func parseCoding(element string) (string, float64) {
	parts := strings.Split(element, ";")
	coding := strings.ToLower(strings.TrimSpace(parts[0]))

	quality := 1.0
	for _, param := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "q") {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || q < 0 || q > 1 {
			// 不正な q 値は拒否扱い
			return coding, 0
		}
		quality = q
	}

	return coding, quality
}
