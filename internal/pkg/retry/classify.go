package retry

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Class 是错误的重试分类
type Class int

const (
	ClassTransient Class = iota
	ClassPermanent
)

func (c Class) String() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "transient"
}

type statusCoder interface {
	StatusCode() int
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// MarkPermanent 标记一个错误不应被重试
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// permanentMarkers 覆盖错误输入、鉴权失败、内容安全拒绝和额度耗尽
var permanentMarkers = []string{
	"invalid input",
	"invalid request",
	"bad request",
	"unauthorized",
	"unauthenticated",
	"authentication",
	"forbidden",
	"permission denied",
	"invalid api key",
	"safety",
	"nsfw",
	"content policy",
	"moderation",
	"billing",
	"quota",
	"insufficient credit",
	"payment required",
}

// Classify 判断错误是否值得重试
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassPermanent
	}

	var pe *permanentError
	if errors.As(err, &pe) {
		return ClassPermanent
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		switch sc.StatusCode() {
		case http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusPaymentRequired,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity:
			return ClassPermanent
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			// 429 也可能是额度耗尽，交给下面的关键字判断
		default:
			if sc.StatusCode() >= 500 {
				return ClassTransient
			}
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return ClassPermanent
		}
	}
	return ClassTransient
}
