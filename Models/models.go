package Models

import (
	"github.com/bwmarrin/discordgo"
)

// MessageLink is one guild/channel/message id triple matched from a
// Discord message link in free text.
type MessageLink struct {
	GuildID   string
	ChannelID string
	MessageID string
}

// ResolvedMessage pairs a fetched message with the channel it lives in.
// The channel is kept because the embed footer needs the channel name
// and the DM check needs the channel type.
type ResolvedMessage struct {
	Message *discordgo.Message
	Channel *discordgo.Channel
}

// RoleGroup is one configured attendance grouping: a guild role id and
// the label shown in the attendance list. Order matters - groupings are
// checked first to last and the list renders in the same order.
type RoleGroup struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// GuildRoleConfig maps a guild id to its ordered attendance role groupings.
type GuildRoleConfig map[string][]RoleGroup

// AttendMembers buckets display names under role label, then grade label.
// role -> grade -> display names
type AttendMembers map[string]map[string][]string

// MemberDisplayName resolves the name shown for a guild member: the
// nickname when set, otherwise the account's global display name,
// otherwise the raw username.
func MemberDisplayName(member *discordgo.Member) string {
	if member.Nick != "" {
		return member.Nick
	}
	if member.User != nil {
		if member.User.GlobalName != "" {
			return member.User.GlobalName
		}
		return member.User.Username
	}
	return ""
}

// Reactor is one non-bot user currently holding an attendance marker,
// reduced to what bucketing needs.
type Reactor struct {
	DisplayName string
	RoleIDs     []string
}

// AttendanceRecord is the fully recomputed state for one prompt message.
// It is rebuilt from live reaction membership on every update and never
// persisted.
type AttendanceRecord struct {
	EventTitle string
	Attending  AttendMembers
	Absent     AttendMembers
	Undecided  AttendMembers
}
