package handlers

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"wavebot/discord"
)

// deferred commands touch voice or the stream and can outlast the
// three second interaction deadline.
var deferred = map[string]bool{
	discord.CommandJoin:      true,
	discord.CommandPlay:      true,
	discord.CommandRadio:     true,
	discord.CommandVaporwave: true,
	discord.CommandStop:      true,
	discord.CommandLeave:     true,
}

// CommandFromInteraction extracts the command of a slash command or radio
// button click.
func CommandFromInteraction(interaction *discordgo.Interaction) (Command, bool) {
	cmd := Command{GuildID: interaction.GuildID}
	switch {
	case interaction.Member != nil && interaction.Member.User != nil:
		cmd.UserID = interaction.Member.User.ID
	case interaction.User != nil:
		cmd.UserID = interaction.User.ID
	}

	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		cmd.Name = interaction.ApplicationCommandData().Name
	case discordgo.InteractionMessageComponent:
		action, guildID, ok := discord.ParseButtonCustomID(interaction.MessageComponentData().CustomID)
		if !ok || guildID != interaction.GuildID {
			return Command{}, false
		}
		cmd.Name = action
		cmd.FromButton = true
	default:
		return Command{}, false
	}

	return cmd, cmd.Name != ""
}

// OnInteractionCreate handles interactions delivered over the gateway.
func (manager *Manager) OnInteractionCreate(s *discordgo.Session, event *discordgo.InteractionCreate) {
	manager.HandleInteraction(manager.ctx, event.Interaction)
}

func (manager *Manager) HandleInteraction(ctx context.Context, interaction *discordgo.Interaction) {
	logger := manager.logger.WithFields(log.Fields{
		"method":  "HandleInteraction",
		"guildID": interaction.GuildID,
	})

	cmd, ok := CommandFromInteraction(interaction)
	if !ok {
		if err := manager.responder.Respond(interaction, unknownInteraction()); err != nil {
			logger.Warnf("error answering unknown interaction: %v", err)
		}
		return
	}

	if !deferred[cmd.Name] {
		if err := manager.responder.Respond(interaction, manager.Dispatch(ctx, cmd)); err != nil {
			logger.Warnf("error responding to %s: %v", cmd.Name, err)
		}
		return
	}

	if reply := manager.Precheck(cmd); reply != nil {
		if err := manager.responder.Respond(interaction, reply); err != nil {
			logger.Warnf("error rejecting %s: %v", cmd.Name, err)
		}
		return
	}

	if err := manager.responder.Defer(interaction, false); err != nil {
		logger.Warnf("error deferring %s: %v", cmd.Name, err)
		return
	}
	if err := manager.complete(interaction, manager.Execute(ctx, cmd)); err != nil {
		logger.Warnf("error completing %s: %v", cmd.Name, err)
	}
}

// complete answers a deferred interaction. Edits of the deferred message are
// always public, so ephemeral replies go out as a follow-up.
func (manager *Manager) complete(interaction *discordgo.Interaction, reply *discord.Reply) error {
	if reply.Ephemeral {
		return manager.responder.FollowUp(interaction, reply)
	}
	return manager.responder.EditResponse(interaction, reply)
}

// InteractionsHandler serves Discord's HTTP interactions endpoint. Deferred
// commands are acknowledged in the HTTP response and completed once the gate
// returns.
func (manager *Manager) InteractionsHandler(publicKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		signature := c.GetHeader("X-Signature-Ed25519")
		timestamp := c.GetHeader("X-Signature-Timestamp")

		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
			return
		}

		if !VerifyDiscordRequest(publicKey, signature, timestamp, body) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid request signature"})
			return
		}

		var interaction discordgo.Interaction
		if err := json.Unmarshal(body, &interaction); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse interaction"})
			return
		}

		if interaction.Type == discordgo.InteractionPing {
			c.JSON(http.StatusOK, &discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong})
			return
		}

		cmd, ok := CommandFromInteraction(&interaction)
		if !ok {
			c.JSON(http.StatusOK, messageResponse(unknownInteraction()))
			return
		}

		if !deferred[cmd.Name] {
			c.JSON(http.StatusOK, messageResponse(manager.Dispatch(c.Request.Context(), cmd)))
			return
		}
		if reply := manager.Precheck(cmd); reply != nil {
			c.JSON(http.StatusOK, messageResponse(reply))
			return
		}

		started := manager.goBackground(func() {
			reply := manager.Execute(manager.ctx, cmd)
			if err := manager.complete(&interaction, reply); err != nil {
				manager.logger.WithField("guildID", cmd.GuildID).Warnf("error completing %s: %v", cmd.Name, err)
			}
		})
		if !started {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Shutting down"})
			return
		}
		c.JSON(http.StatusOK, discord.DeferredResponse(&interaction, false))
	}
}

func messageResponse(reply *discord.Reply) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: reply.ResponseData(),
	}
}

func unknownInteraction() *discord.Reply {
	return ephemeral("Sorry, I don't know how to handle this type of interaction")
}

// VerifyDiscordRequest checks the ed25519 signature Discord puts on every
// HTTP interaction.
func VerifyDiscordRequest(publicKey, signature, timestamp string, body []byte) bool {
	pubKeyBytes, err := hex.DecodeString(publicKey)
	if err != nil || len(pubKeyBytes) != ed25519.PublicKeySize {
		log.Warnf("Error decoding public key: %v", err)
		return false
	}

	signatureBytes, err := hex.DecodeString(signature)
	if err != nil || len(signatureBytes) != ed25519.SignatureSize {
		log.Debugf("Error decoding signature: %v", err)
		return false
	}

	message := []byte(timestamp + string(body))
	return ed25519.Verify(pubKeyBytes, message, signatureBytes)
}
