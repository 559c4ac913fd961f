package api

import (
	"comicstrip/internal/entity"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestUserAdministration(t *testing.T) {
	ts := newTestServer(t, nil)
	admin := ts.register(t, "admin@example.com")

	tests := []struct {
		name   string
		body   gin.H
		status int
		code   string
	}{
		{name: "普通用户", body: gin.H{"email": "artist@example.com", "password": "correct-horse", "role": "user"}, status: http.StatusCreated},
		{name: "重复邮箱", body: gin.H{"email": "artist@example.com", "password": "correct-horse", "role": "user"}, status: http.StatusBadRequest, code: ErrCodeEmailExists},
		{name: "非法角色", body: gin.H{"email": "x@example.com", "password": "correct-horse", "role": "root"}, status: http.StatusBadRequest, code: ErrCodeInvalidRequest},
		{name: "不能创建超级管理员", body: gin.H{"email": "y@example.com", "password": "correct-horse", "role": "super_admin"}, status: http.StatusBadRequest, code: ErrCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/users", admin.Token, tt.body)
			if tt.code != "" {
				assertAPIError(t, w, tt.status, tt.code)
				return
			}
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d (%s)", tt.status, w.Code, w.Body.String())
			}
		})
	}

	w := ts.do(t, http.MethodGet, "/api/users", admin.Token, nil)
	var list entity.UserListResponse
	decodeBody(t, w, &list)
	if len(list.Users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(list.Users))
	}

	selfPath := fmt.Sprintf("/api/users/%d", admin.User.ID)
	assertAPIError(t, ts.do(t, http.MethodDelete, selfPath, admin.Token, nil), http.StatusBadRequest, ErrCodeCannotDeleteSelf)

	var artistID uint
	for _, u := range list.Users {
		if u.Email == "artist@example.com" {
			artistID = u.ID
		}
	}
	if w := ts.do(t, http.MethodDelete, fmt.Sprintf("/api/users/%d", artistID), admin.Token, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete user: status %d", w.Code)
	}
	assertAPIError(t, ts.do(t, http.MethodDelete, fmt.Sprintf("/api/users/%d", artistID), admin.Token, nil), http.StatusNotFound, ErrCodeUserNotFound)
}
