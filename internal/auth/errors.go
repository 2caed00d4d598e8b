package auth

import "errors"

var (
	// ErrUnauthorized 是所有鉴权失败的统一结果：签名错误、账户不存在、会话已撤销、凭据错误。
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidToken token 格式或签名无效。
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingSecret 未配置签名密钥。
	ErrMissingSecret = errors.New("jwt secret is empty")
)
