package handlers

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"ddbridge/internal/models"
	"ddbridge/internal/session"
	"ddbridge/pkg/third/directdecisions"
)

func TestParseCustomID(t *testing.T) {
	tests := []struct {
		in         string
		action, id string
		ok         bool
	}{
		{"vote:abc", "vote", "abc", true},
		{"ballot:a:b", "ballot", "a:b", true},
		{"vote:", "", "", false},
		{":abc", "", "", false},
		{"vote", "", "", false},
	}
	for _, tt := range tests {
		action, id, ok := parseCustomID(tt.in)
		if action != tt.action || id != tt.id || ok != tt.ok {
			t.Errorf("parseCustomID(%q) = %q %q %v", tt.in, action, id, ok)
		}
	}
}

func TestResultsRendering(t *testing.T) {
	v := &models.VotingSession{Name: "lunch", BallotsSeen: []string{"a", "b"}}
	outcome := &directdecisions.Outcome{
		Results: []directdecisions.Result{
			{Choice: "sushi", Percentage: 100, Wins: 2},
			{Choice: "pizza", Percentage: 50, Wins: 1},
			{Choice: "tacos", Percentage: 0, Wins: 0},
			{Choice: "soup", Percentage: 0, Wins: 0},
		},
		Duels: []directdecisions.Duel{
			{Left: directdecisions.DuelOutcome{Choice: "pizza", Strength: 1}, Right: directdecisions.DuelOutcome{Choice: "sushi", Strength: 2}},
			{Left: directdecisions.DuelOutcome{Choice: "tacos", Strength: 1}, Right: directdecisions.DuelOutcome{Choice: "soup", Strength: 1}},
		},
	}

	embeds := results(v, outcome)
	if len(embeds) != 2 {
		t.Fatalf("expected ranking and duel embeds, got %d", len(embeds))
	}
	desc := embeds[0].Description
	for _, want := range []string{"\U0001f947 **sushi**", "\U0001f948 **pizza**", "\U0001f949 **tacos**", "▫️ **soup**", "100.0% wins (2 victories)"} {
		if !strings.Contains(desc, want) {
			t.Errorf("ranking missing %q:\n%s", want, desc)
		}
	}
	duels := embeds[1].Description
	if !strings.Contains(duels, "✓ sushi > pizza (2-1)") || !strings.Contains(duels, "tacos vs soup: **Tied**") {
		t.Errorf("unexpected duels:\n%s", duels)
	}
	if embeds[0].Footer.Text != "2 ballots" {
		t.Errorf("unexpected footer %q", embeds[0].Footer.Text)
	}

	outcome.Tie = true
	embeds = results(v, outcome)
	if len(embeds) != 1 || embeds[0].Color != colorTie || !strings.Contains(embeds[0].Description, "tie") {
		t.Fatalf("tie must drop the duel breakdown: %+v", embeds)
	}
}

func TestBallotModal(t *testing.T) {
	v := models.NewVotingSession("g", "c", "o", "u", strings.Repeat("x", 80), []string{"pizza", "sushi"}, time.Now())
	resp := ballotModal(v)
	if resp.Type != discordgo.InteractionResponseModal {
		t.Fatalf("unexpected type %v", resp.Type)
	}
	if n := len([]rune(resp.Data.Title)); n > maxModalTitle {
		t.Fatalf("title too long: %d", n)
	}
	row := resp.Data.Components[0].(discordgo.ActionsRow)
	input := row.Components[0].(discordgo.TextInput)
	if input.CustomID != rankingInput || !strings.Contains(input.Placeholder, "1. pizza") {
		t.Fatalf("unexpected input %+v", input)
	}
}

func TestRetired(t *testing.T) {
	v := &models.VotingSession{Name: "lunch", BallotsSeen: []string{"a"}}
	tests := []struct {
		state   models.SessionState
		deleted bool
		want    string
	}{
		{models.SessionStateClosed, false, "Waiting for the creator"},
		{models.SessionStatePublished, false, "results were published"},
		{models.SessionStateFailed, false, "failed"},
		{models.SessionStateOpen, true, "deleted by its creator"},
	}
	for _, tt := range tests {
		v.State = tt.state
		embeds := retired(v, nil, tt.deleted)
		if len(embeds) != 1 || !strings.Contains(embeds[0].Description, tt.want) {
			t.Errorf("retired(%s, deleted=%v) = %+v, want %q", tt.state, tt.deleted, embeds[0], tt.want)
		}
	}

	edit := retiredEdit("c1", "m1", retired(v, nil, true))
	if edit.Channel != "c1" || edit.ID != "m1" || edit.Components == nil || len(*edit.Components) != 0 {
		t.Fatalf("edit must clear the buttons: %+v", edit)
	}
}

func TestRenderErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&session.ValidationError{Cause: session.ErrWrongState, Detail: "voting is closed"}, "voting is closed"},
		{&directdecisions.Error{Kind: directdecisions.KindTransient, StatusCode: 502}, "retry later"},
		{&directdecisions.Error{Kind: directdecisions.KindRejected, StatusCode: 400, Message: "too many choices"}, "too many choices"},
		{&directdecisions.Error{Kind: directdecisions.KindRejected, StatusCode: 404}, "marked as failed"},
		{&session.StorageError{Op: "put", Err: errTest}, "went wrong"},
	}
	for _, tt := range tests {
		params := render(models.CommandComplete, nil, tt.err)
		if !strings.Contains(params.Content, tt.want) {
			t.Errorf("render(%v) = %q, want it to contain %q", tt.err, params.Content, tt.want)
		}
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("disk full")
