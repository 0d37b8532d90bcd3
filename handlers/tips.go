package handlers

import (
	"math/rand/v2"
	"sync"
	"time"

	"wavebot/controller"
)

const (
	tipCooldown = 30 * time.Minute
	tipChance   = 0.25
)

// tips appends a short pointer to the Joined and Playing cards. A guild
// gets at most one per cooldown; leaving resets it.
type tips struct {
	mutex    sync.Mutex
	shown    map[string]time.Time
	byResult map[controller.Result][]string
	cooldown time.Duration
	chance   float64
	now      func() time.Time
	roll     func() float64
	pick     func(n int) int
}

func newTips(autoReplay bool) *tips {
	playing := []string{
		"/stop keeps me in the channel, /play picks the stream back up",
		"/status shows how long the radio has been on air",
		"The buttons under this card work like /stop and /leave",
		"/invite gets you a link to add me to another server",
	}
	if autoReplay {
		playing = append(playing, "If the station drops I reconnect to it on my own")
	}

	return &tips{
		shown: make(map[string]time.Time),
		byResult: map[controller.Result][]string{
			controller.Joined: {
				"/radio joins and starts the stream in one step",
				"/leave sends me away when you're done",
			},
			controller.Playing: playing,
		},
		cooldown: tipCooldown,
		chance:   tipChance,
		now:      time.Now,
		roll:     rand.Float64,
		pick:     rand.IntN,
	}
}

// For returns the suffix to add under a card for result, or "".
func (t *tips) For(guildID string, result controller.Result) string {
	options := t.byResult[result]
	if len(options) == 0 {
		return ""
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	now := t.now()
	if last, ok := t.shown[guildID]; ok && now.Sub(last) < t.cooldown {
		return ""
	}
	if t.roll() >= t.chance {
		return ""
	}
	t.shown[guildID] = now
	return "\n\n💡 " + options[t.pick(len(options))]
}

func (t *tips) forget(guildID string) {
	t.mutex.Lock()
	delete(t.shown, guildID)
	t.mutex.Unlock()
}
