package discord

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/shzanya/verificationBot/internal/discord/mock"
)

func TestRoleDirectory_GrantRevokeRemove(t *testing.T) {
	t.Parallel()

	api := &mock.Members{}
	d := NewRoleDirectory(api, "g1")
	ctx := context.Background()

	if err := d.Grant(ctx, "u1", "verified", "passed"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := d.Revoke(ctx, "u1", "unverified", "passed"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := d.Remove(ctx, "u1", ""); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	want := []mock.MemberCall{
		{Method: "add", GuildID: "g1", UserID: "u1", RoleID: "verified"},
		{Method: "remove", GuildID: "g1", UserID: "u1", RoleID: "unverified"},
		{Method: "move", GuildID: "g1", UserID: "u1"},
	}
	got := api.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRoleDirectory_Errors(t *testing.T) {
	t.Parallel()

	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	transport := errors.New("connection reset")

	tests := []struct {
		name     string
		api      *mock.Members
		call     func(d *RoleDirectory) error
		wantPerm bool
	}{
		{
			name:     "grant forbidden",
			api:      &mock.Members{AddErr: forbidden},
			call:     func(d *RoleDirectory) error { return d.Grant(context.Background(), "u1", "r", "") },
			wantPerm: true,
		},
		{
			name: "revoke transport",
			api:  &mock.Members{RemoveErr: transport},
			call: func(d *RoleDirectory) error { return d.Revoke(context.Background(), "u1", "r", "") },
		},
		{
			name:     "remove forbidden",
			api:      &mock.Members{MoveErr: forbidden},
			call:     func(d *RoleDirectory) error { return d.Remove(context.Background(), "u1", "") },
			wantPerm: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.call(NewRoleDirectory(tt.api, "g1"))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrMissingPermission); got != tt.wantPerm {
				t.Errorf("errors.Is(err, ErrMissingPermission) = %v, want %v (err: %v)", got, tt.wantPerm, err)
			}
			if !tt.wantPerm && !errors.Is(err, transport) {
				t.Errorf("transport error not wrapped: %v", err)
			}
		})
	}
}
