package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker decides who may run moderator slash commands.
type PermissionChecker struct {
	moderatorRoleID string
}

// NewPermissionChecker creates a PermissionChecker with the given moderator
// role ID.
func NewPermissionChecker(moderatorRoleID string) *PermissionChecker {
	return &PermissionChecker{moderatorRoleID: moderatorRoleID}
}

// IsModerator reports whether the interaction author holds the moderator
// role or can manage roles. Interactions outside a guild never qualify.
func (p *PermissionChecker) IsModerator(i *discordgo.InteractionCreate) bool {
	if i.Member == nil {
		return false
	}
	const elevated = discordgo.PermissionManageRoles | discordgo.PermissionAdministrator
	if i.Member.Permissions&elevated != 0 {
		return true
	}
	if p.moderatorRoleID == "" {
		return false
	}
	return slices.Contains(i.Member.Roles, p.moderatorRoleID)
}
