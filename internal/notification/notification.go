/*
Copyright 2026 ReelScript Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notification

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reelscript/reelscript/config"
	"github.com/reelscript/reelscript/internal/request"
)

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func slackPayload(projectName string, err error, at time.Time) slackMessage {
	if projectName == "" {
		projectName = "ReelScript"
	}
	return slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: "Error From " + projectName + " 🐞", Emoji: true}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: "*Error:*\n" + err.Error()}}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: "*Time:*\n" + at.Format(time.RFC822)}}},
	}}
}

// SlackNotification posts err to the configured Slack webhook.
func SlackNotification(ctx context.Context, systemError error) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return nil
	}
	return request.PostJSON(ctx, conf.Notification.Slack.WebhookUrl,
		slackPayload(conf.ProjectName, systemError, time.Now()), nil, nil)
}

// NotifyError logs systemError and, if Slack is configured, forwards it
// from a background goroutine so callers never block on the webhook.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := SlackNotification(ctx, systemError); err != nil {
			logrus.WithError(err).Warn("failed to send slack notification")
		}
	}(systemError)
}
