package kis

import (
	"strings"

	"github.com/pkg/errors"
)

// Environment 交易环境：模拟盘或实盘
type Environment string

const (
	Demo Environment = "demo"
	Live Environment = "live"
)

// ParseEnvironment 解析环境字符串，兼容 paper/real 等写法
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "demo", "paper", "vts", "mock":
		return Demo, nil
	case "live", "real", "prod":
		return Live, nil
	}
	return "", errors.Errorf("unknown environment: %q", s)
}

func (e Environment) String() string { return string(e) }

// IsDemo 是否模拟盘
func (e Environment) IsDemo() bool { return e == Demo }

// TRID 返回指定环境下的交易 ID。模拟盘把实盘 TR 的首字母替换为 V（TTTT1002U -> VTTT1002U）。
// 行情、外币保证金等没有模拟盘版本的 TR 不应走这里。
func TRID(live string, env Environment) string {
	if env != Demo || live == "" {
		return live
	}
	return "V" + live[1:]
}

// Profile 单个环境的接入参数
type Profile struct {
	BaseURL            string `yaml:"baseUrl" json:"baseUrl"`
	WebSocketURL       string `yaml:"websocketUrl" json:"websocketUrl"`
	AppKey             string `yaml:"appKey" json:"appKey"`
	AppSecret          string `yaml:"appSecret" json:"-"`
	AccountNumber      string `yaml:"accountNumber" json:"accountNumber"`
	AccountProductCode string `yaml:"accountProductCode" json:"accountProductCode"`
}

// RequireAccount 账户号和商品代码都必须配置
func (p Profile) RequireAccount() error {
	if strings.TrimSpace(p.AccountNumber) == "" {
		return &ValidationError{Field: "accountNumber", Message: "account number is not configured"}
	}
	if strings.TrimSpace(p.AccountProductCode) == "" {
		return &ValidationError{Field: "accountProductCode", Message: "account product code is not configured"}
	}
	return nil
}

// Profiles 实盘与模拟盘两套参数
type Profiles struct {
	Live Profile
	Demo Profile
}

// For 按环境选择参数
func (p Profiles) For(env Environment) Profile {
	if env == Live {
		return p.Live
	}
	return p.Demo
}
