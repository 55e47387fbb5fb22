package UnfurlLinks

import (
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"discord-utility-bot/Components"
	"discord-utility-bot/Dispatcher"
	"discord-utility-bot/Models"
	"discord-utility-bot/Registry"

	"github.com/bwmarrin/discordgo"
)

type MessageLink = Models.MessageLink
type ResolvedMessage = Models.ResolvedMessage

// Custom ids routed back to this package by the dispatcher.
const (
	ConfirmDeleteCustomIDPrefix = "confirmDeleteMessageLinkDetails"
	DeleteCustomID              = "deleteMessageLinkDetails"
)

// maxUnfurledLinks bounds the fetch fan-out for one triggering message.
// Links beyond the cap are dropped silently.
const maxUnfurledLinks = 10

// fieldValueCap is Discord's limit for one embed field value.
const fieldValueCap = 1024

var messageLinkPattern = regexp.MustCompile(`https://discord(?:app)?\.com/channels/(\d+)/(\d+)/(\d+)`)

// Session is the slice of *discordgo.Session this package touches.
// The method signatures mirror discordgo exactly so the real session
// satisfies the interface and tests swap in a fake.
type Session interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponse(interaction *discordgo.Interaction, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
}

// MatchMessageLinks scans text for Discord message links and returns the
// id triples in scan order. Duplicates are preserved.
func MatchMessageLinks(text string) []MessageLink {
	matches := messageLinkPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	links := make([]MessageLink, 0, len(matches))
	for _, match := range matches {
		links = append(links, MessageLink{
			GuildID:   match[1],
			ChannelID: match[2],
			MessageID: match[3],
		})
	}
	return links
}

// ResolveMessageLinks fetches every linked message concurrently, at most
// maxUnfurledLinks of them. Each link writes into its own slot so the
// result keeps scan order no matter which fetch finishes first. A slot
// stays nil when its link could not be resolved for the requesting user.
func ResolveMessageLinks(session Session, links []MessageLink, requestingUserID string) []*ResolvedMessage {
	if len(links) > maxUnfurledLinks {
		links = links[:maxUnfurledLinks]
	}

	resolved := make([]*ResolvedMessage, len(links))

	var completeResolution sync.WaitGroup
	for i, link := range links {
		completeResolution.Add(1)
		go func(slot int, l MessageLink) {
			defer completeResolution.Done()

			message, resolveError := resolveMessageLink(session, l, requestingUserID)
			if resolveError != nil {
				// Deleted messages, missing channels and missing view
				// permission all end up here and all mean the same
				// thing: this link does not get an embed.
				log.Printf("UnfurlLinks:resolveMessageLink#Error while resolving the linked message: %s", resolveError.Error())
				return
			}
			resolved[slot] = message
		}(i, link)
	}
	completeResolution.Wait()

	return resolved
}

func resolveMessageLink(session Session, link MessageLink, requestingUserID string) (*ResolvedMessage, error) {
	channel, channelFetchError := session.Channel(link.ChannelID)
	if channelFetchError != nil {
		return nil, channelFetchError
	}

	if !isTextBased(channel.Type) {
		return nil, fmt.Errorf("channel %s is not text based", channel.ID)
	}

	permissions, permissionsError := session.UserChannelPermissions(requestingUserID, link.ChannelID)
	if permissionsError != nil {
		return nil, permissionsError
	}
	if permissions&discordgo.PermissionViewChannel == 0 {
		return nil, fmt.Errorf("user %s can not view channel %s", requestingUserID, link.ChannelID)
	}

	message, messageFetchError := session.ChannelMessage(link.ChannelID, link.MessageID)
	if messageFetchError != nil {
		return nil, messageFetchError
	}

	return &ResolvedMessage{Message: message, Channel: channel}, nil
}

func isTextBased(channelType discordgo.ChannelType) bool {
	switch channelType {
	case discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeDM,
		discordgo.ChannelTypeGroupDM:
		return true
	default:
		return false
	}
}

// BuildEmbeds renders each resolved message into a display embed, in
// input order. Messages that already carry an embed and no text body
// are passed through unchanged to avoid double wrapping.
func BuildEmbeds(session Session, resolved []*ResolvedMessage) []*discordgo.MessageEmbed {
	var embeds []*discordgo.MessageEmbed
	for _, entry := range resolved {
		if entry == nil {
			continue
		}
		if len(entry.Message.Embeds) > 0 && len(entry.Message.Content) == 0 {
			embeds = append(embeds, entry.Message.Embeds[0])
			continue
		}
		embeds = append(embeds, buildMessageEmbed(session, entry))
	}
	return embeds
}

func buildMessageEmbed(session Session, entry *ResolvedMessage) *discordgo.MessageEmbed {
	message := entry.Message
	channel := entry.Channel

	embed := Components.NewEmbed()
	messageURL := fmt.Sprintf("https://discord.com/channels/%s/%s/%s", channel.GuildID, message.ChannelID, message.ID)
	embed.Description = fmt.Sprintf("[メッセージへ](%s)", messageURL)
	embed.Timestamp = message.Timestamp.Format(time.RFC3339)

	// Platform-wide identity first, replaced by the guild display
	// identity when the member is still fetchable.
	embed.Author = &discordgo.MessageEmbedAuthor{
		Name:    message.Author.Username,
		IconURL: message.Author.AvatarURL(""),
	}
	if channel.GuildID != "" {
		member, memberFetchError := session.GuildMember(channel.GuildID, message.Author.ID)
		if memberFetchError == nil {
			embed.Author = &discordgo.MessageEmbedAuthor{
				Name:    Models.MemberDisplayName(member),
				IconURL: member.AvatarURL(""),
			}
		}
	}

	if len(message.Content) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Content",
			Value: truncate(message.Content, fieldValueCap),
		})
	}

	if len(message.Attachments) > 0 {
		for _, attachment := range message.Attachments {
			if strings.HasPrefix(attachment.ContentType, "image") {
				embed.Image = &discordgo.MessageEmbedImage{URL: attachment.URL}
				break
			}
		}
		if len(message.Attachments) > 1 {
			listed := make([]string, 0, len(message.Attachments))
			for _, attachment := range message.Attachments {
				if attachment.Filename != "" {
					listed = append(listed, fmt.Sprintf("[%s](%s)", attachment.Filename, attachment.URL))
				} else {
					listed = append(listed, attachment.URL)
				}
			}
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:  "Attachments",
				Value: truncate(strings.Join(listed, "\n"), fieldValueCap),
			})
		}
	}

	if len(message.Reactions) > 0 {
		summaries := make([]string, 0, len(message.Reactions))
		for _, reaction := range message.Reactions {
			summaries = append(summaries, fmt.Sprintf("%s `%d`", reaction.Emoji.MessageFormat(), reaction.Count))
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Reactions",
			Value: truncate(strings.Join(summaries, "  "), fieldValueCap),
		})
	}

	// DMs have no named container, so no footer there.
	if channel.Type != discordgo.ChannelTypeDM && channel.Type != discordgo.ChannelTypeGroupDM {
		footer := &discordgo.MessageEmbedFooter{Text: "#" + channel.Name}
		guild, guildFetchError := session.Guild(channel.GuildID)
		if guildFetchError == nil {
			footer.IconURL = guild.IconURL("")
		}
		embed.Footer = footer
	}

	return embed
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

// HandleMessageLink unfurls every Discord message link in a newly posted
// message. When nothing resolves the bot stays silent; otherwise it
// replies with the embeds and a delete button only the author may use.
func HandleMessageLink(session Session, message *discordgo.Message) error {
	links := MatchMessageLinks(message.Content)
	if len(links) == 0 {
		return nil
	}

	resolved := ResolveMessageLinks(session, links, message.Author.ID)
	embeds := BuildEmbeds(session, resolved)
	if len(embeds) == 0 {
		return nil
	}

	_, replyError := session.ChannelMessageSendComplex(message.ChannelID, &discordgo.MessageSend{
		Embeds: embeds,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						CustomID: ConfirmDeleteCustomIDPrefix + "_" + message.Author.ID,
						Label:    "Delete",
						Style:    discordgo.DangerButton,
						Emoji:    &discordgo.ComponentEmoji{Name: "🗑️"},
					},
				},
			},
		},
		Reference: message.Reference(),
	})
	return replyError
}

// HandleConfirmDeleteMessageLinkDetails runs when someone presses the
// delete button on an unfurl reply. Only the user who posted the links
// may delete; everyone else gets told so. The confirmation prompt is
// registered so the OK press can still edit it afterwards.
func HandleConfirmDeleteMessageLinkDetails(session Session, registry *Registry.Registry, interaction *discordgo.Interaction) error {
	customID := interaction.MessageComponentData().CustomID
	ownerID := strings.TrimPrefix(customID, ConfirmDeleteCustomIDPrefix+"_")

	if Dispatcher.User(interaction).ID != ownerID {
		return session.InteractionRespond(interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{Components.ErrorEmbed("メッセージの送信者しか削除できません。")},
				Flags:  discordgo.MessageFlagsEphemeral,
			},
		})
	}

	respondError := session.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{{
				Color:       Components.ErrorColor,
				Title:       "本当に削除しますか？",
				Description: "再度表示することはできません。",
			}},
			Components: Components.OKButtonRow(DeleteCustomID, false),
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

// HandleDeleteMessageLinkDetails runs when the OK button on the
// confirmation prompt is pressed. It deletes the unfurl reply, then
// resolves the pending confirmation to disable the prompt. A missing
// registry entry means the prompt already expired and the edit is
// skipped.
func HandleDeleteMessageLinkDetails(session Session, registry *Registry.Registry, interaction *discordgo.Interaction) error {
	ref := interaction.Message.MessageReference
	if ref == nil || ref.MessageID == "" {
		return respondFetchFailed(session, interaction)
	}

	channelID := ref.ChannelID
	if channelID == "" {
		channelID = interaction.ChannelID
	}

	if _, messageFetchError := session.ChannelMessage(channelID, ref.MessageID); messageFetchError != nil {
		return respondFetchFailed(session, interaction)
	}

	if deleteError := session.ChannelMessageDelete(channelID, ref.MessageID); deleteError != nil {
		return session.InteractionRespond(interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{Components.ErrorEmbed("メッセージの削除に失敗しました。削除する権限がない可能性があります。")},
			},
		})
	}

	respondError := session.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "メッセージを削除しました。",
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})

	if origin, ok := registry.Resolve(interaction.Message.ID); ok {
		embeds := interaction.Message.Embeds
		components := Components.OKButtonRow("doNothing", true)
		if _, editError := session.InteractionResponseEdit(origin, &discordgo.WebhookEdit{
			Embeds:     &embeds,
			Components: &components,
		}); editError != nil {
			log.Printf("UnfurlLinks:HandleDeleteMessageLinkDetails#Error while editing the confirmation prompt: %s", editError.Error())
		}
	}

	return respondError
}

func respondFetchFailed(session Session, interaction *discordgo.Interaction) error {
	return session.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{Components.ErrorEmbed("メッセージが取得できませんでした。既に削除されている可能性があります。")},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
}
