package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"

	"discord-utility-bot/Dispatcher"
	"discord-utility-bot/Models"
	"discord-utility-bot/Registry"
	"discord-utility-bot/Repo"
	"discord-utility-bot/SendAnonymous"
	"discord-utility-bot/TrackAttendance"
	"discord-utility-bot/UnfurlLinks"

	"github.com/bwmarrin/discordgo"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

var dbPool *pgxpool.Pool

// loadGuildRoleConfigs reads the attend role groups from the database when
// DATABASE_URL is set, otherwise from the ATTEND_ROLE_CONFIG json variable.
func loadGuildRoleConfigs() Models.GuildRoleConfig {
	if os.Getenv("DATABASE_URL") != "" {
		dbInitialisationError := Repo.InitDbPool(&dbPool)

		if dbInitialisationError != nil {
			log.Fatal("Failed to initialise DB:", dbInitialisationError)
		}

		configs, configFetchError := Repo.GetGuildRoleConfigs(dbPool)

		if configFetchError != nil {
			log.Fatal("Failed to load guild role configs:", configFetchError)
		}
		return configs
	}

	configs := Models.GuildRoleConfig{}
	rawConfig := os.Getenv("ATTEND_ROLE_CONFIG")
	if rawConfig == "" {
		return configs
	}

	configParseError := json.Unmarshal([]byte(rawConfig), &configs)

	if configParseError != nil {
		log.Fatal("Failed to parse ATTEND_ROLE_CONFIG:", configParseError)
	}
	return configs
}

// registerCommands overwrites the application commands on every start.
// The anonymous command is global, the attend command only goes to guilds
// that have role groups configured.
func registerCommands(session *discordgo.Session, tracker *TrackAttendance.Tracker) {
	applicationID := session.State.User.ID

	globalCommands := []*discordgo.ApplicationCommand{SendAnonymous.BuildAnonymousCommand()}

	_, globalOverwriteError := session.ApplicationCommandBulkOverwrite(applicationID, "", globalCommands)

	if globalOverwriteError != nil {
		log.Printf("main:registerCommands#Error while registering the global commands: %s", globalOverwriteError)
	}

	guildCommands := []*discordgo.ApplicationCommand{tracker.BuildAttendCommand()}

	for _, guildID := range tracker.ConfiguredGuildIDs() {
		_, guildOverwriteError := session.ApplicationCommandBulkOverwrite(applicationID, guildID, guildCommands)

		if guildOverwriteError != nil {
			log.Printf("main:registerCommands#Error while registering the commands for guild %s: %s", guildID, guildOverwriteError)
		}
	}
}

func handleInteraction(session *discordgo.Session, registry *Registry.Registry, tracker *TrackAttendance.Tracker, interaction *discordgo.Interaction) {
	user := Dispatcher.User(interaction)
	if user == nil || user.Bot {
		return
	}

	var handleError error

	switch event := Dispatcher.Decode(interaction).(type) {
	case Dispatcher.SlashInvocation:
		switch event.Name {
		case TrackAttendance.AttendCommandName:
			handleError = tracker.HandleAttendCommand(session, interaction)
		case SendAnonymous.AnonymousCommandName:
			handleError = SendAnonymous.HandleAnonymousCommand(session, registry, interaction)
		}
	case Dispatcher.ButtonPress:
		switch {
		case strings.HasPrefix(event.ID, UnfurlLinks.ConfirmDeleteCustomIDPrefix):
			handleError = UnfurlLinks.HandleConfirmDeleteMessageLinkDetails(session, registry, interaction)
		case event.ID == UnfurlLinks.DeleteCustomID:
			handleError = UnfurlLinks.HandleDeleteMessageLinkDetails(session, registry, interaction)
		case event.ID == SendAnonymous.SendCustomID:
			handleError = SendAnonymous.HandleSendAnonymousMessage(session, registry, interaction)
		}
	case Dispatcher.ModalSubmit:
		if event.ID == SendAnonymous.ModalCustomID {
			handleError = SendAnonymous.HandleConfirmSendAnonymousMessage(session, registry, interaction)
		}
	case Dispatcher.Unknown:
	}

	if handleError != nil {
		log.Printf("main:handleInteraction#Error while handling the interaction: %s", handleError)
	}
}

func main() {

	dotenvLoadError := godotenv.Load()

	if dotenvLoadError != nil {
		log.Println("No .env file loaded:", dotenvLoadError)
	}

	botToken := os.Getenv("BOT_TOKEN")
	if botToken == "" {
		log.Fatal("BOT_TOKEN is not set")
	}

	tracker := TrackAttendance.NewTracker(loadGuildRoleConfigs())
	registry := Registry.New(Registry.DefaultTTL)

	session, sessionCreateError := discordgo.New("Bot " + botToken)

	if sessionCreateError != nil {
		log.Fatal("Failed to create the session:", sessionCreateError)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsDirectMessageReactions |
		discordgo.IntentsMessageContent

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		registerCommands(s, tracker)
		log.Println("bot ready!")
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}

		unfurlError := UnfurlLinks.HandleMessageLink(s, m.Message)

		if unfurlError != nil {
			log.Printf("main:main#Error while unfurling the message links: %s", unfurlError)
		}
	})

	// attendance recomputes from the live reactions, so add and remove go
	// through the same path
	handleReactionChange := func(s *discordgo.Session, reaction *discordgo.MessageReaction, userID string) {
		if userID == s.State.User.ID {
			return
		}

		reactionError := tracker.HandleAttendReaction(s, s.State.User.ID, reaction)

		if reactionError != nil {
			log.Printf("main:main#Error while updating the attendance: %s", reactionError)
		}
	}

	session.AddHandler(func(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
		if r.Member != nil && r.Member.User != nil && r.Member.User.Bot {
			return
		}
		handleReactionChange(s, r.MessageReaction, r.UserID)
	})

	session.AddHandler(func(s *discordgo.Session, r *discordgo.MessageReactionRemove) {
		handleReactionChange(s, r.MessageReaction, r.UserID)
	})

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		handleInteraction(s, registry, tracker, i.Interaction)
	})

	gatewayOpenError := session.Open()

	if gatewayOpenError != nil {
		log.Fatal("Failed to open the gateway connection:", gatewayOpenError)
	}
	defer session.Close()

	deploymentBaseURI := os.Getenv("DEPLOYMENT_BASE_URI")

	keepaliveCron := cron.New()

	_, cronScheduleError := keepaliveCron.AddFunc("@every 5m", func() {
		log.Printf("main:keepalive#%d confirmations pending", registry.Len())

		if deploymentBaseURI == "" {
			return
		}

		resp, healthCheckError := http.Get(deploymentBaseURI)

		if healthCheckError != nil {
			log.Println("Health check failed:", healthCheckError)
			return
		}
		resp.Body.Close()
		log.Println("Health check successful")
	})

	if cronScheduleError != nil {
		log.Fatal("Failed to schedule the keepalive:", cronScheduleError)
	}
	keepaliveCron.Start()

	// Health endpoint
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Service running"))
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Fatal(http.ListenAndServe(":"+port, nil))
}
