package discord

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestParseButtonCustomID(t *testing.T) {
	tests := []struct {
		name        string
		customID    string
		wantAction  string
		wantGuildID string
		wantOK      bool
	}{
		{
			name:        "valid play",
			customID:    "radio:play:123456789",
			wantAction:  "play",
			wantGuildID: "123456789",
			wantOK:      true,
		},
		{
			name:        "valid stop",
			customID:    "radio:stop:111222333",
			wantAction:  "stop",
			wantGuildID: "111222333",
			wantOK:      true,
		},
		{
			name:        "valid leave",
			customID:    "radio:leave:987654321",
			wantAction:  "leave",
			wantGuildID: "987654321",
			wantOK:      true,
		},
		{
			name:     "invalid prefix",
			customID: "np:stop:123456789",
		},
		{
			name:     "missing parts",
			customID: "radio:stop",
		},
		{
			name:     "too many parts",
			customID: "radio:stop:123:456",
		},
		{
			name:     "empty guild",
			customID: "radio:stop:",
		},
		{
			name:     "empty string",
			customID: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotAction, gotGuildID, gotOK := ParseButtonCustomID(tt.customID)
			if gotAction != tt.wantAction {
				t.Errorf("ParseButtonCustomID() action = %q, want %q", gotAction, tt.wantAction)
			}
			if gotGuildID != tt.wantGuildID {
				t.Errorf("ParseButtonCustomID() guildID = %q, want %q", gotGuildID, tt.wantGuildID)
			}
			if gotOK != tt.wantOK {
				t.Errorf("ParseButtonCustomID() ok = %v, want %v", gotOK, tt.wantOK)
			}
		})
	}
}

func TestBuildRadioButtons(t *testing.T) {
	tests := []struct {
		name        string
		guildID     string
		isPlaying   bool
		wantActions []string
	}{
		{
			name:        "playing state",
			guildID:     "123456789",
			isPlaying:   true,
			wantActions: []string{ActionStop, ActionLeave},
		},
		{
			name:        "connected state",
			guildID:     "987654321",
			isPlaying:   false,
			wantActions: []string{ActionPlay, ActionLeave},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			components := BuildRadioButtons(tt.guildID, tt.isPlaying)
			if len(components) != 1 {
				t.Fatalf("Expected 1 action row, got %d", len(components))
			}

			row, ok := components[0].(discordgo.ActionsRow)
			if !ok {
				t.Fatal("First component is not an ActionsRow")
			}
			if len(row.Components) != len(tt.wantActions) {
				t.Fatalf("Expected %d buttons, got %d", len(tt.wantActions), len(row.Components))
			}

			for i, action := range tt.wantActions {
				btn, ok := row.Components[i].(discordgo.Button)
				if !ok {
					t.Errorf("Component %d is not a Button", i)
					continue
				}
				if want := ButtonCustomID(action, tt.guildID); btn.CustomID != want {
					t.Errorf("Button %d: expected CustomID %q, got %q", i, want, btn.CustomID)
				}
			}
		})
	}
}

func TestButtonStructure(t *testing.T) {
	guildID := "test123"

	for _, playing := range []bool{true, false} {
		for rowIdx, component := range BuildRadioButtons(guildID, playing) {
			row, ok := component.(discordgo.ActionsRow)
			if !ok {
				t.Errorf("Row %d is not an ActionsRow", rowIdx)
				continue
			}

			if len(row.Components) > 5 {
				t.Errorf("Row %d has %d buttons, Discord API limit is 5", rowIdx, len(row.Components))
			}

			for btnIdx, btnComponent := range row.Components {
				btn, ok := btnComponent.(discordgo.Button)
				if !ok {
					t.Errorf("Row %d, Button %d is not a Button", rowIdx, btnIdx)
					continue
				}

				if !strings.HasPrefix(btn.CustomID, "radio:") {
					t.Errorf("Row %d, Button %d: CustomID should start with 'radio:', got %q", rowIdx, btnIdx, btn.CustomID)
				}

				action, gotGuild, ok := ParseButtonCustomID(btn.CustomID)
				if !ok || gotGuild != guildID || action == "" {
					t.Errorf("Row %d, Button %d: CustomID %q does not round-trip", rowIdx, btnIdx, btn.CustomID)
				}

				if btn.Label == "" && btn.Emoji == nil {
					t.Errorf("Row %d, Button %d: Button should have either label or emoji", rowIdx, btnIdx)
				}
			}
		}
	}
}
