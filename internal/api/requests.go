package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// Number 同时接受 JSON 数字和字符串，保留原始文本交给 decimal 解析。
type Number string

// UnmarshalJSON 实现 json.Unmarshaler。
func (n *Number) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*n = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = Number(strings.TrimSpace(s))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return fmt.Errorf("expected number, got %s", raw)
	}
	*n = Number(num.String())
	return nil
}

type tokenInfoRequest struct {
	TokenAddress string `json:"token_address" validate:"required"`
}

type tokenBalanceRequest struct {
	TokenAddress  string `json:"token_address" validate:"required"`
	WalletAddress string `json:"wallet_address" validate:"required"`
}

type swapRequest struct {
	PrivateKey    string `json:"private_key" validate:"required"`
	WalletAddress string `json:"wallet_address"`
	TokenAddress  string `json:"token_address" validate:"required"`
	AmountIn      Number `json:"amount_in" validate:"required"`
	TradeType     string `json:"trade_type"`
	Slippage      Number `json:"slippage"`
}

type scheduleRequest struct {
	PrivateKey    string `json:"private_key" validate:"required"`
	WalletAddress string `json:"wallet_address"`
	TokenAddress  string `json:"token_address" validate:"required"`
	AmountIn      Number `json:"amount_in" validate:"required"`
	TradeType     string `json:"trade_type"`
	Slippage      Number `json:"slippage"`
	ScheduleTime  string `json:"schedule_time" validate:"required"`
	ThreadCount   *int   `json:"thread_count"`
	RunCount      *int   `json:"run_count"`
}

type monitorStartRequest struct {
	TokenAddress  string `json:"token_address" validate:"required"`
	WalletAddress string `json:"wallet_address" validate:"required"`
	Threshold     Number `json:"threshold"`
	AutoTrade     bool   `json:"auto_trade"`
}

type monitorStopRequest struct {
	MonitorID string `json:"monitor_id" validate:"required"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode 读取 JSON 请求体并执行结构体校验，错误信息可直接返回给调用方。
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("请求体为空")
		}
		return fmt.Errorf("请求体解析失败: %w", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			var missing, invalid []string
			for _, fe := range verrs {
				if fe.Tag() == "required" {
					missing = append(missing, fe.Field())
					continue
				}
				invalid = append(invalid, fmt.Sprintf("%s(%s=%s)", fe.Field(), fe.Tag(), fe.Param()))
			}
			if len(missing) > 0 {
				return fmt.Errorf("缺少必要参数: %s", strings.Join(missing, ", "))
			}
			return fmt.Errorf("参数不合法: %s", strings.Join(invalid, ", "))
		}
		return err
	}
	return nil
}
