package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// ErrMissingPermission is returned when Discord refuses a member change
// because the bot lacks the permission or its role is ranked too low.
var ErrMissingPermission = errors.New("discord: missing permission")

// MemberAPI is the subset of *discordgo.Session the role directory uses.
type MemberAPI interface {
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberMove(guildID string, userID string, channelID *string, options ...discordgo.RequestOption) error
}

var _ MemberAPI = (*discordgo.Session)(nil)

// RoleDirectory grants and revokes guild roles and removes members from
// voice. Every call is a single attempt; failures are returned, not retried.
type RoleDirectory struct {
	api     MemberAPI
	guildID string
}

// NewRoleDirectory creates a RoleDirectory for guildID.
func NewRoleDirectory(api MemberAPI, guildID string) *RoleDirectory {
	return &RoleDirectory{api: api, guildID: guildID}
}

// Grant gives userID the role.
func (d *RoleDirectory) Grant(ctx context.Context, userID, roleID, reason string) error {
	err := d.api.GuildMemberRoleAdd(d.guildID, userID, roleID, requestOptions(ctx, reason)...)
	if err != nil {
		return fmt.Errorf("discord: grant role %s to %s: %w", roleID, userID, classify(err))
	}
	slog.Info("discord: role granted", "participant_id", userID, "role_id", roleID)
	return nil
}

// Revoke removes the role from userID.
func (d *RoleDirectory) Revoke(ctx context.Context, userID, roleID, reason string) error {
	err := d.api.GuildMemberRoleRemove(d.guildID, userID, roleID, requestOptions(ctx, reason)...)
	if err != nil {
		return fmt.Errorf("discord: revoke role %s from %s: %w", roleID, userID, classify(err))
	}
	slog.Info("discord: role revoked", "participant_id", userID, "role_id", roleID)
	return nil
}

// Remove disconnects userID from voice. The error wraps
// [ErrMissingPermission] when the bot may not move members.
func (d *RoleDirectory) Remove(ctx context.Context, userID, reason string) error {
	if err := d.api.GuildMemberMove(d.guildID, userID, nil, requestOptions(ctx, reason)...); err != nil {
		return fmt.Errorf("discord: disconnect %s: %w", userID, classify(err))
	}
	slog.Info("discord: member disconnected from voice", "participant_id", userID)
	return nil
}

func requestOptions(ctx context.Context, reason string) []discordgo.RequestOption {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
	}
	return opts
}

// classify tags permission failures so callers can tell them apart from
// transport errors.
func classify(err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %w", ErrMissingPermission, err)
	}
	return err
}
