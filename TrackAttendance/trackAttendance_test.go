package TrackAttendance

import (
	"fmt"
	"sync"
	"testing"

	"discord-utility-bot/Models"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu sync.Mutex

	message  *discordgo.Message
	guild    *discordgo.Guild
	members  map[string]*discordgo.Member
	reactors map[string][]*discordgo.User

	edits     []*discordgo.MessageEdit
	responses []*discordgo.InteractionResponse
	reacted   []string
	prompt    *discordgo.Message
}

func (session *fakeSession) ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if session.message == nil || session.message.ID != messageID {
		return nil, fmt.Errorf("unknown message %s", messageID)
	}
	return session.message, nil
}

func (session *fakeSession) ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	session.edits = append(session.edits, m)
	return nil, nil
}

func (session *fakeSession) Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error) {
	if session.guild == nil || session.guild.ID != guildID {
		return nil, fmt.Errorf("unknown guild %s", guildID)
	}
	return session.guild, nil
}

func (session *fakeSession) GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if member, ok := session.members[userID]; ok {
		return member, nil
	}
	return nil, fmt.Errorf("unknown member %s", userID)
}

func (session *fakeSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	session.responses = append(session.responses, resp)
	return nil
}

func (session *fakeSession) InteractionResponse(interaction *discordgo.Interaction, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if session.prompt == nil {
		return nil, fmt.Errorf("no prompt recorded")
	}
	return session.prompt, nil
}

func (session *fakeSession) MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error {
	session.reacted = append(session.reacted, emojiID)
	return nil
}

func (session *fakeSession) MessageReactions(channelID, messageID, emojiID string, limit int, beforeID, afterID string, options ...discordgo.RequestOption) ([]*discordgo.User, error) {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.reactors[emojiID], nil
}

const botID = "bot-user"

var testRoleGroups = []RoleGroup{
	{ID: "role-concert", Label: "コンサート"},
	{ID: "role-contest", Label: "コンテスト"},
}

var testGrades = []RoleGroup{
	{ID: "grade-1", Label: "1"},
	{ID: "grade-2", Label: "2"},
}

func promptMessage(reactions map[string]int) *discordgo.Message {
	message := &discordgo.Message{
		ID:        "prompt-1",
		ChannelID: "channel-1",
		Author:    &discordgo.User{ID: botID},
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "夏合宿",
			Description: "出欠確認",
		}},
	}
	for emoji, count := range reactions {
		message.Reactions = append(message.Reactions, &discordgo.MessageReactions{
			Count: count,
			Emoji: &discordgo.Emoji{Name: emoji},
		})
	}
	return message
}

func testGuild() *discordgo.Guild {
	return &discordgo.Guild{
		ID: "guild-1",
		Roles: []*discordgo.Role{
			{ID: "grade-1", Name: "1"},
			{ID: "grade-2", Name: "2"},
			{ID: "role-concert", Name: "コンサート係"},
		},
	}
}

func TestBucketReactorsDefaultsToUnknownBuckets(t *testing.T) {
	reactors := []Models.Reactor{{DisplayName: "みどり", RoleIDs: []string{"unrelated-role"}}}

	buckets := bucketReactors(reactors, testRoleGroups, testGrades)
	require.Contains(t, buckets, "Unknown")
	assert.Equal(t, []string{"みどり"}, buckets["Unknown"]["??"])
}

func TestBucketReactorsUsesFirstMatchingGroups(t *testing.T) {
	reactors := []Models.Reactor{
		{DisplayName: "あおい", RoleIDs: []string{"role-contest", "role-concert", "grade-2", "grade-1"}},
	}

	buckets := bucketReactors(reactors, testRoleGroups, testGrades)
	// Both memberships match; the configured order decides.
	assert.Equal(t, []string{"あおい"}, buckets["コンサート"]["1"])
}

func TestFormatMemberListEmptyRendersPlaceholder(t *testing.T) {
	assert.Equal(t, "```なし```", formatMemberList(AttendMembers{}, []string{"コンサート"}))
}

func TestFormatMemberListGrid(t *testing.T) {
	members := AttendMembers{
		"コンサート": {
			"2": {"ゆき"},
			"1": {"はな", "あき"},
		},
		"Unknown": {
			"??": {"みどり"},
		},
	}

	rendered := formatMemberList(members, []string{"コンサート", "コンテスト"})
	expected := "```\n" +
		"コンサート\n" +
		"1   あき\n" +
		"    はな\n" +
		"2   ゆき\n" +
		"\n" +
		"Unknown\n" +
		"??  みどり\n" +
		"```"
	assert.Equal(t, expected, rendered)
}

func TestBuildAttendEmbedSectionOrderIsFixed(t *testing.T) {
	record := &AttendanceRecord{
		EventTitle: "夏合宿",
		Attending:  AttendMembers{},
		Absent:     AttendMembers{},
		Undecided:  AttendMembers{},
	}

	embed := buildAttendEmbed(record, nil)
	assert.Equal(t, "夏合宿", embed.Title)
	assert.Equal(t, "出欠確認", embed.Description)
	require.Len(t, embed.Fields, 3)
	assert.Equal(t, "出席 ⭕", embed.Fields[0].Name)
	assert.Equal(t, "欠席 ❌", embed.Fields[1].Name)
	assert.Equal(t, "不明 ❓", embed.Fields[2].Name)
	for _, field := range embed.Fields {
		assert.Equal(t, "```なし```", field.Value)
	}
}

func TestHandleAttendCommandRejectsDirectMessages(t *testing.T) {
	session := &fakeSession{}
	tracker := NewTracker(Models.GuildRoleConfig{})

	interaction := &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		Data: discordgo.ApplicationCommandInteractionData{Name: AttendCommandName},
	}

	require.NoError(t, tracker.HandleAttendCommand(session, interaction))
	require.Len(t, session.responses, 1)
	require.Len(t, session.responses[0].Data.Embeds, 1)
	assert.Equal(t, "サーバー以外では使用できません。", session.responses[0].Data.Embeds[0].Description)
	assert.Empty(t, session.reacted)
}

func TestHandleAttendCommandPostsPromptAndSeedsMarkers(t *testing.T) {
	session := &fakeSession{prompt: &discordgo.Message{ID: "prompt-1", ChannelID: "channel-1"}}
	tracker := NewTracker(Models.GuildRoleConfig{"guild-1": testRoleGroups})

	interaction := &discordgo.Interaction{
		Type:    discordgo.InteractionApplicationCommand,
		GuildID: "guild-1",
		Data: discordgo.ApplicationCommandInteractionData{
			Name: AttendCommandName,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "title", Type: discordgo.ApplicationCommandOptionString, Value: "夏合宿"},
			},
		},
	}

	require.NoError(t, tracker.HandleAttendCommand(session, interaction))
	require.Len(t, session.responses, 1)
	embed := session.responses[0].Data.Embeds[0]
	assert.Equal(t, "夏合宿", embed.Title)
	assert.Equal(t, "出欠確認", embed.Description)
	assert.Equal(t, []string{"⭕", "❌", "❓"}, session.reacted)
}

func TestHandleAttendReactionIgnoresUntrackedMarker(t *testing.T) {
	session := &fakeSession{}
	tracker := NewTracker(Models.GuildRoleConfig{"guild-1": testRoleGroups})

	require.NoError(t, tracker.HandleAttendReaction(session, botID, &discordgo.MessageReaction{
		GuildID: "guild-1",
		Emoji:   discordgo.Emoji{Name: "👍"},
	}))
	assert.Empty(t, session.edits)
}

func TestHandleAttendReactionIgnoresForeignMessages(t *testing.T) {
	session := &fakeSession{
		message: &discordgo.Message{
			ID:        "prompt-1",
			ChannelID: "channel-1",
			Author:    &discordgo.User{ID: "someone-else"},
		},
	}
	tracker := NewTracker(Models.GuildRoleConfig{"guild-1": testRoleGroups})

	require.NoError(t, tracker.HandleAttendReaction(session, botID, &discordgo.MessageReaction{
		GuildID:   "guild-1",
		ChannelID: "channel-1",
		MessageID: "prompt-1",
		Emoji:     discordgo.Emoji{Name: "⭕"},
	}))
	assert.Empty(t, session.edits)
}

func TestHandleAttendReactionRecomputesFromLiveMembership(t *testing.T) {
	session := &fakeSession{
		message: promptMessage(map[string]int{"⭕": 3, "❌": 1, "❓": 1}),
		guild:   testGuild(),
		members: map[string]*discordgo.Member{
			"user-hana": {Nick: "はな", User: &discordgo.User{ID: "user-hana"}, Roles: []string{"role-concert", "grade-1"}},
			"user-yuki": {Nick: "ゆき", User: &discordgo.User{ID: "user-yuki"}, Roles: []string{"role-concert", "grade-2"}},
		},
		reactors: map[string][]*discordgo.User{
			"⭕": {{ID: botID}, {ID: "user-hana"}, {ID: "user-yuki"}},
			"❌": {{ID: botID}},
			"❓": {{ID: botID}},
		},
	}
	tracker := NewTracker(Models.GuildRoleConfig{"guild-1": testRoleGroups})

	reaction := &discordgo.MessageReaction{
		GuildID:   "guild-1",
		ChannelID: "channel-1",
		MessageID: "prompt-1",
		Emoji:     discordgo.Emoji{Name: "⭕"},
	}

	require.NoError(t, tracker.HandleAttendReaction(session, botID, reaction))
	require.Len(t, session.edits, 1)
	require.NotNil(t, session.edits[0].Embeds)
	embed := (*session.edits[0].Embeds)[0]

	assert.Equal(t, "夏合宿", embed.Title)
	expected := "```\n" +
		"コンサート\n" +
		"1   はな\n" +
		"2   ゆき\n" +
		"```"
	assert.Equal(t, expected, embed.Fields[0].Value)
	assert.Equal(t, "```なし```", embed.Fields[1].Value)
	assert.Equal(t, "```なし```", embed.Fields[2].Value)

	// The second recompute sees the same platform state and must render
	// byte-identically.
	require.NoError(t, tracker.HandleAttendReaction(session, botID, reaction))
	require.Len(t, session.edits, 2)
	assert.Equal(t, session.edits[0], session.edits[1])
}

func TestHandleAttendReactionBucketsUnmatchedReactorUnderUnknown(t *testing.T) {
	session := &fakeSession{
		message: promptMessage(map[string]int{"⭕": 2}),
		guild:   testGuild(),
		members: map[string]*discordgo.Member{
			"user-midori": {Nick: "みどり", User: &discordgo.User{ID: "user-midori"}, Roles: []string{"unrelated-role"}},
		},
		reactors: map[string][]*discordgo.User{
			"⭕": {{ID: botID}, {ID: "user-midori"}},
		},
	}
	tracker := NewTracker(Models.GuildRoleConfig{"guild-1": testRoleGroups})

	require.NoError(t, tracker.HandleAttendReaction(session, botID, &discordgo.MessageReaction{
		GuildID:   "guild-1",
		ChannelID: "channel-1",
		MessageID: "prompt-1",
		Emoji:     discordgo.Emoji{Name: "⭕"},
	}))

	require.Len(t, session.edits, 1)
	embed := (*session.edits[0].Embeds)[0]
	expected := "```\n" +
		"Unknown\n" +
		"??  みどり\n" +
		"```"
	assert.Equal(t, expected, embed.Fields[0].Value)
	assert.Equal(t, "```なし```", embed.Fields[1].Value)
	assert.Equal(t, "```なし```", embed.Fields[2].Value)
}

func TestHandleAttendReactionDropsUnresolvableReactors(t *testing.T) {
	session := &fakeSession{
		message: promptMessage(map[string]int{"⭕": 3}),
		guild:   testGuild(),
		members: map[string]*discordgo.Member{
			"user-hana": {Nick: "はな", User: &discordgo.User{ID: "user-hana"}, Roles: []string{"role-concert", "grade-1"}},
		},
		reactors: map[string][]*discordgo.User{
			"⭕": {{ID: botID}, {ID: "user-hana"}, {ID: "user-left-guild"}},
		},
	}
	tracker := NewTracker(Models.GuildRoleConfig{"guild-1": testRoleGroups})

	require.NoError(t, tracker.HandleAttendReaction(session, botID, &discordgo.MessageReaction{
		GuildID:   "guild-1",
		ChannelID: "channel-1",
		MessageID: "prompt-1",
		Emoji:     discordgo.Emoji{Name: "⭕"},
	}))

	require.Len(t, session.edits, 1)
	embed := (*session.edits[0].Embeds)[0]
	assert.Contains(t, embed.Fields[0].Value, "はな")
	assert.NotContains(t, embed.Fields[0].Value, "user-left-guild")
}
