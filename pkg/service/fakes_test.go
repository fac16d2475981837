package service

import (
	"context"
	"errors"
	"sync"
	"time"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/choraleia/leadagent/pkg/models"
	"github.com/choraleia/leadagent/pkg/speech/stt"
	"github.com/choraleia/leadagent/pkg/speech/tts"
)

// fakeChatModel implements einoModel.BaseChatModel with a canned reply.
type fakeChatModel struct {
	reply string
	err   error
	delay time.Duration

	mu     sync.Mutex
	n      int
	inputs [][]*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.n++
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (f *fakeChatModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

func (f *fakeChatModel) lastInput() []*schema.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		return nil
	}
	return f.inputs[len(f.inputs)-1]
}

type fakeSTT struct {
	text string
	err  error
}

func (f *fakeSTT) Name() string { return "fake" }

func (f *fakeSTT) Transcribe(_ context.Context, audio []byte, _ stt.TranscribeOptions) models.Result[string] {
	if f.err != nil || len(audio) == 0 {
		return models.Failure[string](models.CodeSTTFailure, f.err)
	}
	return models.Success(f.text)
}

type fakeTTS struct {
	fail bool

	mu sync.Mutex
	n  int
}

func (f *fakeTTS) Name() string { return "fake" }

func (f *fakeTTS) Synthesize(_ context.Context, text string) models.Result[tts.Audio] {
	f.mu.Lock()
	f.n++
	f.mu.Unlock()
	if f.fail {
		return models.Failure[tts.Audio](models.CodeTTSFailure, errors.New("tts down"))
	}
	return models.Success(tts.Audio{Data: []byte("audio:" + text), MIME: "audio/wav"})
}
