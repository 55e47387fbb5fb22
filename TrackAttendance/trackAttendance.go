package TrackAttendance

import (
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"

	"discord-utility-bot/Components"
	"discord-utility-bot/Models"

	"github.com/bwmarrin/discordgo"
)

type RoleGroup = Models.RoleGroup
type AttendMembers = Models.AttendMembers
type AttendanceRecord = Models.AttendanceRecord

const AttendCommandName = "attend"

// promptDescription identifies attendance prompts among the bot's own
// messages. Reaction events on anything else are ignored.
const promptDescription = "出欠確認"

// The three tracked markers, in render order.
var markers = [3]string{"⭕", "❌", "❓"}

// unknownRoleLabel is the trailing bucket for reactors matching none of
// the configured role groupings; unknownGradeLabel for reactors with no
// integer-named guild role.
const (
	unknownRoleLabel  = "Unknown"
	unknownGradeLabel = "??"
)

// reactorFetchLimit is Discord's page size cap for reaction users.
const reactorFetchLimit = 100

// Session is the slice of *discordgo.Session this package touches; the
// real session satisfies it structurally.
type Session interface {
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponse(interaction *discordgo.Interaction, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactions(channelID, messageID, emojiID string, limit int, beforeID, afterID string, options ...discordgo.RequestOption) ([]*discordgo.User, error)
}

// Tracker holds the per-guild attendance role groupings. It is
// constructed once in main and passed to the handlers instead of living
// in package state.
type Tracker struct {
	configs Models.GuildRoleConfig
}

func NewTracker(configs Models.GuildRoleConfig) *Tracker {
	return &Tracker{configs: configs}
}

// ConfiguredGuildIDs lists the guilds the attend command registers in.
func (tracker *Tracker) ConfiguredGuildIDs() []string {
	guildIDs := make([]string, 0, len(tracker.configs))
	for guildID := range tracker.configs {
		guildIDs = append(guildIDs, guildID)
	}
	sort.Strings(guildIDs)
	return guildIDs
}

func (tracker *Tracker) BuildAttendCommand() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:                     AttendCommandName,
		NameLocalizations:        &map[discordgo.Locale]string{discordgo.Japanese: "しゅっけつ"},
		Description:              "Confirm attendance by reactions",
		DescriptionLocalizations: &map[discordgo.Locale]string{discordgo.Japanese: "リアクションで出欠確認"},
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:                     discordgo.ApplicationCommandOptionString,
				Name:                     "title",
				NameLocalizations:        map[discordgo.Locale]string{discordgo.Japanese: "タイトル"},
				Description:              "Event name to confirm attendance",
				DescriptionLocalizations: map[discordgo.Locale]string{discordgo.Japanese: "出欠確認したいイベント名"},
				Required:                 true,
			},
		},
	}
}

// HandleAttendCommand posts an empty attendance prompt for the given
// title and seeds the three marker reactions on it, best effort.
func (tracker *Tracker) HandleAttendCommand(session Session, interaction *discordgo.Interaction) error {
	if interaction.GuildID == "" {
		return session.InteractionRespond(interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{Components.ErrorEmbed("サーバー以外では使用できません。")},
			},
		})
	}

	title := interaction.ApplicationCommandData().Options[0].StringValue()
	record := &AttendanceRecord{
		EventTitle: title,
		Attending:  AttendMembers{},
		Absent:     AttendMembers{},
		Undecided:  AttendMembers{},
	}

	respondError := session.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{buildAttendEmbed(record, roleLabels(tracker.configs[interaction.GuildID]))},
		},
	})
	if respondError != nil {
		return respondError
	}

	prompt, fetchReplyError := session.InteractionResponse(interaction)
	if fetchReplyError != nil {
		return fetchReplyError
	}

	for _, marker := range markers {
		if reactError := session.MessageReactionAdd(prompt.ChannelID, prompt.ID, marker); reactError != nil {
			log.Printf("TrackAttendance:HandleAttendCommand#Error while seeding the %s reaction: %s", marker, reactError.Error())
		}
	}
	return nil
}

// HandleAttendReaction recomputes an attendance prompt after a tracked
// marker changed. The displayed record is rebuilt entirely from the
// platform's current reaction membership - there is no incremental
// merge, so the render always matches platform truth at gather time.
func (tracker *Tracker) HandleAttendReaction(session Session, botID string, reaction *discordgo.MessageReaction) error {
	if !isMarker(reaction.Emoji.Name) {
		return nil
	}
	roleGroups, configured := tracker.configs[reaction.GuildID]
	if !configured {
		return nil
	}

	message, messageFetchError := session.ChannelMessage(reaction.ChannelID, reaction.MessageID)
	if messageFetchError != nil {
		return messageFetchError
	}
	if message.Author == nil || message.Author.ID != botID {
		return nil
	}
	if len(message.Embeds) == 0 || message.Embeds[0].Description != promptDescription {
		return nil
	}

	guild, guildFetchError := session.Guild(reaction.GuildID)
	if guildFetchError != nil {
		return guildFetchError
	}
	grades := gradeGroups(guild.Roles)

	reactors := gatherReactors(session, message, reaction.GuildID, botID)

	record := &AttendanceRecord{
		EventTitle: message.Embeds[0].Title,
		Attending:  bucketReactors(reactors[markers[0]], roleGroups, grades),
		Absent:     bucketReactors(reactors[markers[1]], roleGroups, grades),
		Undecided:  bucketReactors(reactors[markers[2]], roleGroups, grades),
	}

	edit := discordgo.NewMessageEdit(message.ChannelID, message.ID)
	edit.SetEmbeds([]*discordgo.MessageEmbed{buildAttendEmbed(record, roleLabels(roleGroups))})
	_, editError := session.ChannelMessageEditComplex(edit)
	return editError
}

func isMarker(emojiName string) bool {
	for _, marker := range markers {
		if emojiName == marker {
			return true
		}
	}
	return false
}

// gradeGroups picks the guild roles whose names parse as integers, in
// the guild's role order. The first one a reactor holds is their grade.
func gradeGroups(roles []*discordgo.Role) []RoleGroup {
	var grades []RoleGroup
	for _, role := range roles {
		if _, parseError := strconv.Atoi(role.Name); parseError != nil {
			continue
		}
		grades = append(grades, RoleGroup{ID: role.ID, Label: role.Name})
	}
	return grades
}

// gatherReactors fetches the current full reactor set of every tracked
// marker concurrently, each marker into its own slot, excluding the
// bot's own seed reaction. A reactor whose membership can not be
// resolved (left the guild) is dropped from that marker only.
func gatherReactors(session Session, message *discordgo.Message, guildID, botID string) map[string][]Models.Reactor {
	slots := make([][]Models.Reactor, len(markers))

	var completeGather sync.WaitGroup
	for i, marker := range markers {
		if !messageHasReaction(message, marker) {
			continue
		}
		completeGather.Add(1)
		go func(slot int, emoji string) {
			defer completeGather.Done()

			users, usersFetchError := session.MessageReactions(message.ChannelID, message.ID, emoji, reactorFetchLimit, "", "")
			if usersFetchError != nil {
				log.Printf("TrackAttendance:gatherReactors#Error while fetching the %s reactors: %s", emoji, usersFetchError.Error())
				return
			}

			var reactors []Models.Reactor
			for _, user := range users {
				if user.ID == botID {
					continue
				}
				member, memberFetchError := session.GuildMember(guildID, user.ID)
				if memberFetchError != nil {
					log.Printf("TrackAttendance:gatherReactors#Error while resolving the member %s: %s", user.ID, memberFetchError.Error())
					continue
				}
				reactors = append(reactors, Models.Reactor{
					DisplayName: Models.MemberDisplayName(member),
					RoleIDs:     member.Roles,
				})
			}
			slots[slot] = reactors
		}(i, marker)
	}
	completeGather.Wait()

	gathered := make(map[string][]Models.Reactor, len(markers))
	for i, marker := range markers {
		gathered[marker] = slots[i]
	}
	return gathered
}

func messageHasReaction(message *discordgo.Message, emojiName string) bool {
	for _, reaction := range message.Reactions {
		if reaction.Emoji != nil && reaction.Emoji.Name == emojiName {
			return true
		}
	}
	return false
}

// bucketReactors is the pure reduction step: it files each reactor
// under the first configured role grouping they belong to (else
// Unknown) and the first grade role they hold (else ??).
func bucketReactors(reactors []Models.Reactor, roleGroups, grades []RoleGroup) AttendMembers {
	buckets := AttendMembers{}
	for _, reactor := range reactors {
		role := unknownRoleLabel
		for _, group := range roleGroups {
			if holdsRole(reactor.RoleIDs, group.ID) {
				role = group.Label
				break
			}
		}
		grade := unknownGradeLabel
		for _, group := range grades {
			if holdsRole(reactor.RoleIDs, group.ID) {
				grade = group.Label
				break
			}
		}
		if buckets[role] == nil {
			buckets[role] = map[string][]string{}
		}
		buckets[role][grade] = append(buckets[role][grade], reactor.DisplayName)
	}
	return buckets
}

func holdsRole(roleIDs []string, roleID string) bool {
	for _, held := range roleIDs {
		if held == roleID {
			return true
		}
	}
	return false
}

func roleLabels(roleGroups []RoleGroup) []string {
	labels := make([]string, 0, len(roleGroups))
	for _, group := range roleGroups {
		labels = append(labels, group.Label)
	}
	return labels
}

// buildAttendEmbed renders the prompt embed: three marker sections in a
// fixed order, each a code-block grid of role, grade and display names.
func buildAttendEmbed(record *AttendanceRecord, roleLabels []string) *discordgo.MessageEmbed {
	embed := Components.NewEmbed()
	embed.Title = record.EventTitle
	embed.Description = promptDescription
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "出席 ⭕", Value: formatMemberList(record.Attending, roleLabels)},
		{Name: "欠席 ❌", Value: formatMemberList(record.Absent, roleLabels)},
		{Name: "不明 ❓", Value: formatMemberList(record.Undecided, roleLabels)},
	}
	return embed
}

// formatMemberList renders one marker bucket. Roles keep their
// configured order with Unknown trailing; grades sort ascending inside
// a role, display names ascending inside a grade. The grade column is
// padded to four runes so names line up.
func formatMemberList(members AttendMembers, roleLabels []string) string {
	if len(members) == 0 {
		return "```なし```"
	}

	orderedRoles := append(append([]string{}, roleLabels...), unknownRoleLabel)

	var b strings.Builder
	for _, role := range orderedRoles {
		grades := members[role]
		if len(grades) == 0 {
			continue
		}
		b.WriteString(role + "\n")

		gradeKeys := make([]string, 0, len(grades))
		for grade := range grades {
			gradeKeys = append(gradeKeys, grade)
		}
		sort.Strings(gradeKeys)

		for _, grade := range gradeKeys {
			names := append([]string{}, grades[grade]...)
			sort.Strings(names)

			for i, name := range names {
				if i == 0 {
					padding := 4 - len([]rune(grade))
					if padding < 0 {
						padding = 0
					}
					b.WriteString(grade + strings.Repeat(" ", padding))
				} else {
					b.WriteString("    ")
				}
				b.WriteString(name + "\n")
			}
		}
		b.WriteString("\n")
	}

	text := b.String()
	if len(text) == 0 {
		return "```なし```"
	}
	return "```\n" + text[:len(text)-1] + "```"
}
