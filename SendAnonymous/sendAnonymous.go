package SendAnonymous

import (
	"strings"

	"discord-utility-bot/Components"
	"discord-utility-bot/Registry"

	"github.com/bwmarrin/discordgo"
)

const AnonymousCommandName = "anonymous"

// Custom ids routed back to this package by the dispatcher.
const (
	SendCustomID  = "sendAnonymousMessage"
	ModalCustomID = "confirmSendAnonymousMessage"
)

// contentInputCap is the modal input limit, matching Discord's embed
// field cap so the confirmation embed never overflows.
const contentInputCap = 1024

type Session interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponse(interaction *discordgo.Interaction, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

func BuildAnonymousCommand() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:                     AnonymousCommandName,
		NameLocalizations:        &map[discordgo.Locale]string{discordgo.Japanese: "とくめい"},
		Description:              "Chat anonymously",
		DescriptionLocalizations: &map[discordgo.Locale]string{discordgo.Japanese: "匿名で発言"},
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:                     discordgo.ApplicationCommandOptionString,
				Name:                     "content",
				NameLocalizations:        map[discordgo.Locale]string{discordgo.Japanese: "内容"},
				Description:              "Content to chat",
				DescriptionLocalizations: map[discordgo.Locale]string{discordgo.Japanese: "発言したい内容"},
				Required:                 false,
			},
			{
				Type:                     discordgo.ApplicationCommandOptionAttachment,
				Name:                     "file",
				NameLocalizations:        map[discordgo.Locale]string{discordgo.Japanese: "ファイル"},
				Description:              "File to send",
				DescriptionLocalizations: map[discordgo.Locale]string{discordgo.Japanese: "送信したいファイル"},
				Required:                 false,
			},
		},
	}
}

// HandleAnonymousCommand either starts the confirmation flow right away
// (when the command carried content or a file) or collects the content
// through a modal first.
func HandleAnonymousCommand(session Session, registry *Registry.Registry, interaction *discordgo.Interaction) error {
	data := interaction.ApplicationCommandData()

	var content string
	var attachment *discordgo.MessageAttachment
	for _, option := range data.Options {
		switch option.Name {
		case "content":
			content = option.StringValue()
		case "file":
			if attachmentID, ok := option.Value.(string); ok && data.Resolved != nil {
				attachment = data.Resolved.Attachments[attachmentID]
			}
		}
	}

	if len(content) > 0 || attachment != nil {
		return replyConfirm(session, registry, interaction, content, attachment)
	}

	return session.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: ModalCustomID,
			Title:    "匿名で発言",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:  "content",
							Label:     "内容",
							Style:     discordgo.TextInputParagraph,
							MaxLength: contentInputCap,
							Required:  true,
						},
					},
				},
			},
		},
	})
}

// HandleConfirmSendAnonymousMessage receives the modal's content and
// continues into the same confirmation flow as the command options.
func HandleConfirmSendAnonymousMessage(session Session, registry *Registry.Registry, interaction *discordgo.Interaction) error {
	data := interaction.ModalSubmitData()
	content := ""
	if len(data.Components) > 0 {
		if row, ok := data.Components[0].(*discordgo.ActionsRow); ok && len(row.Components) > 0 {
			if input, ok := row.Components[0].(*discordgo.TextInput); ok {
				content = input.Value
			}
		}
	}
	return replyConfirm(session, registry, interaction, content, nil)
}

// replyConfirm shows the would-be post back to its author in an
// ephemeral message with an OK button and registers the prompt so the
// button press can finish the flow.
func replyConfirm(session Session, registry *Registry.Registry, interaction *discordgo.Interaction, content string, attachment *discordgo.MessageAttachment) error {
	if len(content) == 0 && attachment == nil {
		return session.InteractionRespond(interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{Components.ErrorEmbed("入力が不足しています。")},
			},
		})
	}

	embed := Components.NewEmbed()
	embed.Title = "匿名で送信"
	if len(content) > 0 {
		embed.Description = content
	}
	if attachment != nil {
		if strings.HasPrefix(attachment.ContentType, "image") {
			embed.Image = &discordgo.MessageEmbedImage{URL: attachment.URL}
		} else {
			value := attachment.URL
			if attachment.Filename != "" {
				value = "[" + attachment.Filename + "](" + attachment.URL + ")"
			}
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:  "File",
				Value: value,
			})
		}
	}

	respondError := session.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:    "以下を送信します。よろしいですか？",
			Embeds:     []*discordgo.MessageEmbed{embed},
			Components: Components.OKButtonRow(SendCustomID, false),
			Flags:      discordgo.MessageFlagsEphemeral,
		},
	})
	if respondError != nil {
		return respondError
	}

	confirmMessage, fetchReplyError := session.InteractionResponse(interaction)
	if fetchReplyError != nil {
		return fetchReplyError
	}

	registry.Register(confirmMessage.ID, interaction)
	return nil
}

// HandleSendAnonymousMessage posts the confirmed embeds publicly, then
// resolves the pending confirmation to mark the originating ephemeral
// as sent. An absent token means the prompt expired; the post still
// happens, only the edit is skipped.
func HandleSendAnonymousMessage(session Session, registry *Registry.Registry, interaction *discordgo.Interaction) error {
	respondError := session.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: interaction.Message.Embeds,
		},
	})
	if respondError != nil {
		return respondError
	}

	origin, ok := registry.Resolve(interaction.Message.ID)
	if !ok {
		return nil
	}

	sent := "送信しました。"
	emptyEmbeds := []*discordgo.MessageEmbed{}
	emptyComponents := []discordgo.MessageComponent{}
	_, editError := session.InteractionResponseEdit(origin, &discordgo.WebhookEdit{
		Content:    &sent,
		Embeds:     &emptyEmbeds,
		Components: &emptyComponents,
	})
	return editError
}
