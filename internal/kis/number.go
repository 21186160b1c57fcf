package kis

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Number KIS 把数值字段放在字符串里返回，且经常是空串。
// 空串或 null 解析为无效值（Valid=false），不报错。
type Number struct {
	decimal.Decimal
	Valid bool
}

// NewNumber 由 decimal 构造有效数值
func NewNumber(d decimal.Decimal) Number {
	return Number{Decimal: d, Valid: true}
}

// NumberFromString 解析失败或为空时返回无效值
func NumberFromString(s string) Number {
	s = strings.TrimSpace(s)
	if s == "" {
		return Number{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Number{}
	}
	return NewNumber(d)
}

func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*n = Number{}
		return nil
	}
	s = strings.TrimSpace(strings.Trim(s, `"`))
	if s == "" {
		*n = Number{}
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	*n = NewNumber(d)
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return []byte(`"` + n.Decimal.String() + `"`), nil
}

// Positive 有效且 > 0
func (n Number) Positive() bool {
	return n.Valid && n.Decimal.IsPositive()
}

// Int64 取整数部分，无效值为 0
func (n Number) Int64() int64 {
	if !n.Valid {
		return 0
	}
	return n.Decimal.IntPart()
}
