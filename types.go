package main

import (
	"sync/atomic"
	"time"
)

// noDescription is the description of a topic that only appears in the precaution dataset.
const noDescription = "No description."

// Topic is one disease/condition entry of the knowledge base.
// Name is the lowercase, trimmed key; it is never empty.
type Topic struct {
	Name        string   `json:"topic"`
	Description string   `json:"description"`
	Precautions []string `json:"precautions"`
}

// VaccinationEntry is one row of the vaccination schedule.
type VaccinationEntry struct {
	Age      string   `json:"age"`
	Vaccines []string `json:"vaccines"`
}

// Readiness tracks the one-time load of the offline datasets.
type Readiness int32

const (
	Unloaded Readiness = iota
	Loading
	Ready
)

func (r Readiness) String() string {
	switch r {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// readinessFlag is an atomic Readiness.
type readinessFlag struct {
	v atomic.Int32
}

func (f *readinessFlag) Load() Readiness { return Readiness(f.v.Load()) }

func (f *readinessFlag) advance(from, to Readiness) bool {
	return f.v.CompareAndSwap(int32(from), int32(to))
}

// Match types reported in MatchResult.
const (
	matchExact     = "exact"
	matchSubstring = "substring"
)

// MatchResult stores information about a topic match
type MatchResult struct {
	Topic     Topic
	Query     string // query after alias rewriting
	MatchType string // "exact" or "substring"
}

// ResponseKind names the branch of the response cascade that produced a payload.
type ResponseKind string

const (
	KindLoading     ResponseKind = "loading"
	KindVaccination ResponseKind = "vaccination"
	KindTopic       ResponseKind = "topic"
	KindNotFound    ResponseKind = "not_found"
)

// Response is the rendered offline answer handed to the UI layer.
type Response struct {
	Kind  ResponseKind `json:"kind"`
	Topic string       `json:"topic,omitempty"`
	HTML  string       `json:"response"`
}

// Request/Response structures
type QueryRequest struct {
	Msg string `json:"msg" form:"msg" query:"msg"`
}

type ReloadResponse struct {
	Message    string    `json:"message"`
	Topics     int       `json:"topics"`
	ReloadedAt time.Time `json:"reloaded_at"`
}

type GenerationResponse struct {
	Message    string   `json:"message"`
	Generation string   `json:"generation"`
	Deleted    []string `json:"deleted,omitempty"`
}
