// Package mock provides test doubles for the Discord API surfaces used by
// the discord package.
package mock

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// InteractionResponder records interaction responses for test assertions.
type InteractionResponder struct {
	// Responses records all InteractionRespond calls.
	Responses []*discordgo.InteractionResponse

	// Err is returned by InteractionRespond when non-nil.
	Err error
}

// InteractionRespond records the response and returns the configured error.
func (m *InteractionResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.Responses = append(m.Responses, resp)
	return m.Err
}

// LastResponse returns the most recently recorded response, or nil.
func (m *InteractionResponder) LastResponse() *discordgo.InteractionResponse {
	if len(m.Responses) == 0 {
		return nil
	}
	return m.Responses[len(m.Responses)-1]
}

// SentEmbed is one embed posted through [Messages].
type SentEmbed struct {
	ChannelID string

	// MessageID is set for edits.
	MessageID string
	Embed     *discordgo.MessageEmbed
}

// Messages records channel embeds. It is safe for concurrent use.
type Messages struct {
	// SendErr and EditErr are returned by the matching calls when non-nil.
	SendErr error
	EditErr error

	mu    sync.Mutex
	sent  []SentEmbed
	edits []SentEmbed
	next  int
}

// ChannelMessageSendEmbed records the embed and returns a message with a
// sequential ID ("msg-1", "msg-2", …).
func (m *Messages) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return nil, m.SendErr
	}
	m.next++
	m.sent = append(m.sent, SentEmbed{ChannelID: channelID, Embed: embed})
	return &discordgo.Message{ID: fmt.Sprintf("msg-%d", m.next), ChannelID: channelID}, nil
}

// ChannelMessageEditEmbed records the edit.
func (m *Messages) ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EditErr != nil {
		return nil, m.EditErr
	}
	m.edits = append(m.edits, SentEmbed{ChannelID: channelID, MessageID: messageID, Embed: embed})
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

// Sent returns the embeds posted as new messages.
func (m *Messages) Sent() []SentEmbed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentEmbed(nil), m.sent...)
}

// Edits returns the recorded edits.
func (m *Messages) Edits() []SentEmbed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentEmbed(nil), m.edits...)
}

// MemberCall is one recorded member change.
type MemberCall struct {
	Method  string
	GuildID string
	UserID  string
	RoleID  string

	// ChannelID is the move target; empty for a disconnect.
	ChannelID string
}

// Members records role and voice changes. It is safe for concurrent use.
type Members struct {
	// AddErr, RemoveErr and MoveErr are returned by the matching calls.
	AddErr    error
	RemoveErr error
	MoveErr   error

	mu    sync.Mutex
	calls []MemberCall
}

func (m *Members) record(c MemberCall) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}

// GuildMemberRoleAdd records the call.
func (m *Members) GuildMemberRoleAdd(guildID, userID, roleID string, _ ...discordgo.RequestOption) error {
	m.record(MemberCall{Method: "add", GuildID: guildID, UserID: userID, RoleID: roleID})
	return m.AddErr
}

// GuildMemberRoleRemove records the call.
func (m *Members) GuildMemberRoleRemove(guildID, userID, roleID string, _ ...discordgo.RequestOption) error {
	m.record(MemberCall{Method: "remove", GuildID: guildID, UserID: userID, RoleID: roleID})
	return m.RemoveErr
}

// GuildMemberMove records the call.
func (m *Members) GuildMemberMove(guildID string, userID string, channelID *string, _ ...discordgo.RequestOption) error {
	c := MemberCall{Method: "move", GuildID: guildID, UserID: userID}
	if channelID != nil {
		c.ChannelID = *channelID
	}
	m.record(c)
	return m.MoveErr
}

// Calls returns the recorded calls in order.
func (m *Members) Calls() []MemberCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MemberCall(nil), m.calls...)
}
