package account

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const minPasswordLength = 7

// NewAccount 注册时提交的身份属性与明文密码。
type NewAccount struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Age      int    `json:"age"`
	Password string `json:"password"`
}

func (in *NewAccount) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	in.Password = strings.TrimSpace(in.Password)
}

// validate 校验身份属性；checkPassword 为 false 时跳过密码规则（更新时未修改密码）。
func (in NewAccount) validate(checkPassword bool) error {
	fields := []*validation.FieldRules{
		validation.Field(&in.Name, validation.Required),
		validation.Field(&in.Email, validation.Required, is.Email),
		validation.Field(&in.Age, validation.Min(0)),
	}
	if checkPassword {
		fields = append(fields, validation.Field(&in.Password,
			validation.Required,
			validation.Length(minPasswordLength, 0),
			validation.By(noPasswordLiteral),
		))
	}

	err := validation.ValidateStruct(&in, fields...)
	if err == nil {
		return nil
	}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		out := &ValidationError{Fields: make(map[string]string, len(verrs))}
		for field, ferr := range verrs {
			out.Fields[field] = ferr.Error()
		}
		return out
	}
	return err
}

func noPasswordLiteral(value interface{}) error {
	s, _ := value.(string)
	if strings.Contains(strings.ToLower(s), "password") {
		return errors.New("must not contain \"password\"")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
