package interview

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// speak hands the channel to the interviewer. The coordinator leaves
// Listening before the utterance is announced, so capture is closed by the
// time any audio exists.
func (r *Runtime) speak(now time.Time, text string) {
	session := r.controller.Session()
	sink := r.currentSink()
	if session.Muted || (r.synth == nil && sink == nil) {
		return
	}

	id := uuid.NewString()
	r.utterance = id
	r.coordinator.NotifySpeechWillStart(now)
	r.notify(NotifySpeakingStart, SpeakingStart{UtteranceID: id, Text: text, ServerAudio: r.synth != nil})

	r.watchdog.Cancel()
	r.watchdog = r.sched.After("speech.watchdog", now, r.cfg.watchdogFor(text), func(now time.Time) {
		r.watchdog = nil
		r.logger.Warn("No end of speech reported, releasing the channel", zap.String("utteranceID", id))
		r.endSpeech(now, id)
	})

	if r.synth == nil {
		// The client synthesizes the text and reports speech_ended.
		return
	}

	if r.speakCancel != nil {
		r.speakCancel()
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.speakCancel = cancel
	go r.synthesize(ctx, id, text)
}

func (r *Runtime) synthesize(ctx context.Context, id, text string) {
	audio, err := r.synth.ConvertTextToSpeech(ctx, text)
	if err != nil {
		r.logger.Warn("Speech synthesis failed", zap.String("utteranceID", id), zap.Error(err))
		_ = r.queue.Enqueue(synthesisFailedEvent{utteranceID: id, err: err})
		return
	}

	chunks := 0
	for chunk := range audio {
		if ctx.Err() != nil {
			continue
		}
		chunks++
		if sink := r.currentSink(); sink != nil {
			sink.SendAudio(chunk)
		}
	}
	if ctx.Err() != nil {
		return
	}
	if chunks == 0 {
		_ = r.queue.Enqueue(synthesisFailedEvent{utteranceID: id, err: errNoAudio})
		return
	}

	if sink := r.currentSink(); sink != nil {
		// Playback is still running on the client; it reports speech_ended.
		sink.Notify(Notification{Type: NotifyAudioEnd, Payload: AudioEnd{UtteranceID: id}})
		return
	}
	_ = r.queue.Enqueue(speechEndedEvent{utteranceID: id})
}

// endSpeech moves the coordinator into its cooldown. Reports for an
// utterance other than the current one are ignored.
func (r *Runtime) endSpeech(now time.Time, id string) {
	if id != "" && id != r.utterance {
		r.logger.Debug("Ignoring end of a superseded utterance", zap.String("utteranceID", id))
		return
	}
	r.watchdog.Cancel()
	r.watchdog = nil
	r.utterance = ""
	if r.speakCancel != nil {
		r.speakCancel()
		r.speakCancel = nil
	}
	r.coordinator.NotifySpeechEnded(now)
}
