package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/shzanya/verificationBot/internal/discord/mock"
)

func commandInteraction(name string, sub string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	data := discordgo.ApplicationCommandInteractionData{Name: name, Options: opts}
	if sub != "" {
		data.Options = []*discordgo.ApplicationCommandInteractionDataOption{{
			Name:    sub,
			Type:    discordgo.ApplicationCommandOptionSubCommand,
			Options: opts,
		}}
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:   discordgo.InteractionApplicationCommand,
			Data:   data,
			Member: &discordgo.Member{User: &discordgo.User{ID: "caller"}},
		},
	}
}

func TestCommandRouter_ApplicationCommands_Dedup(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	cmd := &discordgo.ApplicationCommand{Name: "verify"}
	r.RegisterCommand("verify/status", cmd, func(Responder, *discordgo.InteractionCreate) {})
	r.RegisterCommand("verify/cancel", cmd, func(Responder, *discordgo.InteractionCreate) {})
	r.RegisterHandler("verify/history", func(Responder, *discordgo.InteractionCreate) {})

	cmds := r.ApplicationCommands()
	if len(cmds) != 1 || cmds[0].Name != "verify" {
		t.Fatalf("ApplicationCommands() = %v, want just verify", cmds)
	}
}

func TestCommandRouter_HandleSubcommand(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	var got string
	r.RegisterHandler("verify/status", func(_ Responder, i *discordgo.InteractionCreate) {
		got = InteractionUserID(i)
	})

	resp := &mock.InteractionResponder{}
	r.Handle(resp, commandInteraction("verify", "status"))

	if got != "caller" {
		t.Errorf("handler saw user %q, want caller", got)
	}
	if len(resp.Responses) != 0 {
		t.Errorf("router responded on its own: %+v", resp.Responses)
	}
}

func TestCommandRouter_UnknownCommand(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	resp := &mock.InteractionResponder{}
	r.Handle(resp, commandInteraction("nope", ""))

	last := resp.LastResponse()
	if last == nil || last.Data.Content != "Unknown command." {
		t.Fatalf("response = %+v, want Unknown command.", last)
	}
	if last.Data.Flags&discordgo.MessageFlagsEphemeral == 0 {
		t.Error("unknown command reply should be ephemeral")
	}
}

func TestCommandRouter_IgnoresComponents(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	resp := &mock.InteractionResponder{}
	r.Handle(resp, &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Type: discordgo.InteractionMessageComponent}})
	if len(resp.Responses) != 0 {
		t.Errorf("responses = %d, want 0", len(resp.Responses))
	}
}

func TestSubcommandOptions(t *testing.T) {
	t.Parallel()

	opt := &discordgo.ApplicationCommandInteractionDataOption{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "42"}

	if got := SubcommandOptions(commandInteraction("verify", "cancel", opt)); len(got) != 1 || got[0].Name != "user" {
		t.Errorf("nested options = %v", got)
	}
	if got := SubcommandOptions(commandInteraction("ping", "", opt)); len(got) != 1 || got[0] != opt {
		t.Errorf("top-level options = %v", got)
	}
}

func TestInteractionUserID(t *testing.T) {
	t.Parallel()

	dm := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{User: &discordgo.User{ID: "dm-user"}}}
	if got := InteractionUserID(dm); got != "dm-user" {
		t.Errorf("InteractionUserID(dm) = %q", got)
	}
	if got := InteractionUserID(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}); got != "" {
		t.Errorf("InteractionUserID(empty) = %q", got)
	}
}
