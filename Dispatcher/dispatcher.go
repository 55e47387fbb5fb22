package Dispatcher

import (
	"github.com/bwmarrin/discordgo"
)

// Event is the closed set of interaction shapes the bot routes on.
// Decoding happens once at the gateway boundary so the dispatch in main
// is a total switch over these variants instead of string sniffing on
// raw interaction payloads.
type Event interface {
	isEvent()
}

type SlashInvocation struct {
	Name string
}

type ButtonPress struct {
	ID string
}

type ModalSubmit struct {
	ID string
}

// Unknown covers interaction types the bot does not handle (autocomplete,
// non-button components, ...). Routing drops it silently.
type Unknown struct{}

func (SlashInvocation) isEvent() {}
func (ButtonPress) isEvent()     {}
func (ModalSubmit) isEvent()     {}
func (Unknown) isEvent()         {}

func Decode(interaction *discordgo.Interaction) Event {
	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		return SlashInvocation{Name: interaction.ApplicationCommandData().Name}
	case discordgo.InteractionMessageComponent:
		data := interaction.MessageComponentData()
		if data.ComponentType == discordgo.ButtonComponent {
			return ButtonPress{ID: data.CustomID}
		}
		return Unknown{}
	case discordgo.InteractionModalSubmit:
		return ModalSubmit{ID: interaction.ModalSubmitData().CustomID}
	default:
		return Unknown{}
	}
}

// User returns whoever triggered the interaction. Discord fills Member
// inside guilds and User in DMs, never both.
func User(interaction *discordgo.Interaction) *discordgo.User {
	if interaction.Member != nil {
		return interaction.Member.User
	}
	return interaction.User
}
