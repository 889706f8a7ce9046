package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// IssueRef points at a tracker issue created for an escalated proposal.
type IssueRef struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// TicketTracker escalates improvement proposals to an external issue tracker.
type TicketTracker interface {
	CreateIssue(ctx context.Context, title, body string, labels []string) (*IssueRef, error)
}

// GitHubTracker creates issues via the GitHub REST API.
type GitHubTracker struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
	token      string
	repo       string // "owner/repo"
	baseURL    string
}

type githubIssueRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
}

type githubIssueResponse struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

func NewGitHubTracker(token, repo string, logger *logrus.Logger) *GitHubTracker {
	return &GitHubTracker{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		// GitHub secondary rate limits punish bursts of writes.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		logger:  logger,
		token:   token,
		repo:    repo,
		baseURL: "https://api.github.com",
	}
}

func (t *GitHubTracker) CreateIssue(ctx context.Context, title, body string, labels []string) (*IssueRef, error) {
	if t.token == "" || t.repo == "" {
		return nil, fmt.Errorf("github tracker not configured")
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(githubIssueRequest{Title: title, Body: body, Labels: labels})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal issue request: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/issues", t.baseURL, t.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create issue request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+t.token)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("github issue creation failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var issue githubIssueResponse
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return nil, fmt.Errorf("failed to decode github response: %w", err)
	}

	t.logger.WithFields(logrus.Fields{
		"issue_number": issue.Number,
		"issue_url":    issue.HTMLURL,
	}).Info("Escalation issue created")

	return &IssueRef{Number: issue.Number, URL: issue.HTMLURL}, nil
}
