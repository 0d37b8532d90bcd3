package pages

import (
	"fmt"
	"html"
)

const layout = `<!DOCTYPE html>
<html>
<head>
    <title>%[1]s</title>
    <style>
        body {
            font-family: Arial, sans-serif;
            line-height: 1.6;
            max-width: 800px;
            margin: 0 auto;
            padding: 20px;
        }
        pre {
            white-space: pre-wrap;
            word-wrap: break-word;
        }
    </style>
</head>
<body>
    <h1>%[1]s</h1>
    <pre>%[2]s</pre>
</body>
</html>`

const privacyPolicy = `%s plays an internet radio station in Discord voice channels.

What is stored:
- the server ID, voice channel ID and user ID of each join, play, stop and leave
- the time of each of those events

What is not stored:
- message content
- audio from voice channels
- anything about members other than the person who ran a command

Session events are used for the /stats and /status commands and are kept until the bot is removed from the server.
Errors are reported to Sentry with the server and command they happened in.

Questions or deletion requests: %s`

const termsOfService = `By adding %s to a server you agree to use it for listening to the radio stream it plays.

The bot is provided as is, without uptime guarantees. The radio station is operated by a third party and may be unavailable at any time.
Do not abuse commands to degrade the service for other servers. Users sending commands too quickly are rate limited.

Support: %s`

// Page renders a plain text document into the shared legal page layout.
func Page(title, body string) string {
	return fmt.Sprintf(layout, html.EscapeString(title), html.EscapeString(body))
}

func PrivacyPolicy(botName, supportURL string) string {
	return Page("Privacy Policy", fmt.Sprintf(privacyPolicy, botName, supportURL))
}

func TermsOfService(botName, supportURL string) string {
	return Page("Terms of Service", fmt.Sprintf(termsOfService, botName, supportURL))
}
