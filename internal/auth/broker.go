// Package auth asks the application for credentials and signs a user in.
package auth

import (
	"context"
	"errors"
	"sync"
)

type Kind int

const (
	Phone Kind = iota
	Code
	Password
)

func (k Kind) String() string {
	switch k {
	case Phone:
		return "phone"
	case Code:
		return "code"
	case Password:
		return "password"
	}
	return "unknown"
}

var ErrAnswered = errors.New("prompt already answered")

// Prompt is a request for one credential. Whoever reads it from the broker
// answers with Supply.
type Prompt struct {
	Kind Kind
	// Hint is the password hint or the way the code was sent.
	Hint string
	// Retry is set when the previous value was rejected.
	Retry bool

	once  sync.Once
	reply chan string
}

// Supply answers the prompt. Only the first call counts.
func (p *Prompt) Supply(value string) error {
	err := ErrAnswered
	p.once.Do(func() {
		p.reply <- value
		err = nil
	})
	return err
}

// Broker hands prompts to the application and waits for the answers.
type Broker struct {
	prompts chan *Prompt
}

func NewBroker() *Broker {
	return &Broker{prompts: make(chan *Prompt)}
}

// Prompts is the channel the application reads credential requests from.
func (b *Broker) Prompts() <-chan *Prompt {
	return b.prompts
}

// Ask emits a prompt and blocks until it is answered or ctx ends.
func (b *Broker) Ask(ctx context.Context, kind Kind, hint string, retry bool) (string, error) {
	p := &Prompt{Kind: kind, Hint: hint, Retry: retry, reply: make(chan string, 1)}
	select {
	case b.prompts <- p:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case v := <-p.reply:
		return v, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
