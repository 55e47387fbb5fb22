package Components

import (
	"github.com/bwmarrin/discordgo"
)

// BrandColor is the accent color used for every embed the bot authors itself.
const BrandColor = 0x66A2F8

// ErrorColor matches Discord's red.
const ErrorColor = 0xED4245

func NewEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Color: BrandColor,
	}
}

func ErrorEmbed(description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Color:       ErrorColor,
		Title:       "エラー",
		Description: description,
	}
}

// OKButtonRow is the single danger-style OK button used by the
// confirmation flows, wrapped in its action row.
func OKButtonRow(customID string, disabled bool) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					CustomID: customID,
					Label:    "OK",
					Style:    discordgo.DangerButton,
					Disabled: disabled,
				},
			},
		},
	}
}
