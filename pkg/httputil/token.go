package httputil

import (
	"net/http"
	"strings"
)

// BearerToken достаёт токен из "Authorization: Bearer ...", пусто если заголовка нет.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) <= 7 || !strings.EqualFold(auth[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}
