package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"dcabot/internal/auth"
	memrepository "dcabot/internal/repository/memory"
)

func newAuthService() *AuthService {
	return &AuthService{
		Repo: memrepository.New(),
		JWT:  auth.JWT{Secret: []byte("test-secret"), TokenTTL: time.Hour, Issuer: "dcabot"},
	}
}

func TestRegisterLoginMe(t *testing.T) {
	svc := newAuthService()
	sess, err := svc.Register(context.Background(), " Alice@Example.com ", "correct horse", "")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if sess.User.Email != "alice@example.com" || sess.User.Name != "alice" {
		t.Fatalf("user=%+v", sess.User)
	}
	if sess.User.PasswordHash == "correct horse" {
		t.Fatalf("password stored in clear")
	}
	uid, err := svc.JWT.VerifyToken(sess.Token)
	if err != nil || uid != sess.User.ID {
		t.Fatalf("uid=%d err=%v", uid, err)
	}

	login, err := svc.Login(context.Background(), "alice@example.com", "correct horse")
	if err != nil {
		t.Fatalf("login err=%v", err)
	}
	if login.User.LastLoginAt == nil {
		t.Fatalf("last login not set")
	}
	me, err := svc.Me(context.Background(), login.User.ID)
	if err != nil || me.Email != "alice@example.com" {
		t.Fatalf("me=%+v err=%v", me, err)
	}
}

func TestRegisterRejects(t *testing.T) {
	svc := newAuthService()
	if _, err := svc.Register(context.Background(), "not-an-email", "correct horse", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad email err=%v", err)
	}
	if _, err := svc.Register(context.Background(), "bob@example.com", "short", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("weak password err=%v", err)
	}
	if _, err := svc.Register(context.Background(), "bob@example.com", "long enough", "Bob"); err != nil {
		t.Fatalf("err=%v", err)
	}
	if _, err := svc.Register(context.Background(), "BOB@example.com", "long enough", "Bob"); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate err=%v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc := newAuthService()
	if _, err := svc.Register(context.Background(), "carol@example.com", "long enough", ""); err != nil {
		t.Fatalf("err=%v", err)
	}
	if _, err := svc.Login(context.Background(), "carol@example.com", "wrong password"); !errors.Is(err, ErrInvalidLogin) {
		t.Fatalf("err=%v want ErrInvalidLogin", err)
	}
	if _, err := svc.Login(context.Background(), "nobody@example.com", "long enough"); !errors.Is(err, ErrInvalidLogin) {
		t.Fatalf("err=%v want ErrInvalidLogin", err)
	}
}
