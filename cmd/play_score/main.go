package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	scoreplay "github.com/cbegin/scoreplay-go"
	"github.com/cbegin/scoreplay-go/internal/audio"
	"github.com/cbegin/scoreplay-go/internal/midiengine"
	"github.com/cbegin/scoreplay-go/score"
)

func main() {
	var (
		scorePath  = flag.String("score", "", "path to a score JSON file (default: built-in C major scale)")
		engineName = flag.String("engine", "synth", "playback engine: synth|midi")
		midiPort   = flag.String("midi-port", "", "MIDI output port name substring (with -engine midi)")
		listPorts  = flag.Bool("list-ports", false, "list MIDI output ports and exit")
		sampleRate = flag.Int("sample-rate", 48000, "synth engine sample rate")
		multiplier = flag.Float64("multiplier", 1.0, "tempo multiplier (0.5-2.0)")
		pin        = flag.Int64("pin", -1, "pinned start tick (-1 = none)")
		loopEnd    = flag.Int64("loop-end", -1, "loop end tick (-1 = no loop)")
		loops      = flag.Int("loops", 3, "with -loop-end, stop after N loops (0 = loop forever)")
		wavPath    = flag.String("wav", "", "render to a WAV file instead of playing live")
	)
	flag.Parse()

	if *listPorts {
		for _, name := range midiengine.ListPorts() {
			fmt.Println(name)
		}
		return
	}

	sc, err := resolveScore(*scorePath)
	if err != nil {
		log.Fatal(err)
	}

	if *wavPath != "" {
		samples := scoreplay.RenderScore(sc, *sampleRate, *multiplier)
		wav := scoreplay.EncodeWAVFloat32LE(samples, *sampleRate, 2)
		if err := os.WriteFile(*wavPath, wav, 0o644); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("wrote %s (%d frames)\n", *wavPath, len(samples)/2)
		return
	}

	engine, err := buildEngine(*engineName, *midiPort, *sampleRate)
	if err != nil {
		log.Fatal(err)
	}

	tr, err := scoreplay.NewTransport(engine, sc)
	if err != nil {
		log.Fatal(err)
	}
	tr.SetTempoMultiplier(*multiplier)
	if *pin >= 0 {
		tr.SetPinnedStart(*pin)
	}
	if *loopEnd >= 0 {
		tr.SetLoopEnd(*loopEnd)
	}

	ch := tr.Watch()
	if err := tr.Play(context.Background()); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("playing %q (%d notes, %d ticks)\n", sc.Title, len(sc.Notes), sc.DurationTicks())

	loopCount := 0
	for event := range ch {
		switch event.Kind {
		case scoreplay.EventPlaybackEnded:
			fmt.Println("playback completed")
			goto done
		case scoreplay.EventStopped:
			goto done
		case scoreplay.EventLoopCompleted:
			loopCount++
			fmt.Printf("loop %d completed\n", loopCount)
			if *loops > 0 && loopCount >= *loops {
				tr.Stop()
			}
		}
	}
done:
	tr.Wait()
}

func resolveScore(path string) (*score.Score, error) {
	if strings.TrimSpace(path) == "" {
		return score.CMajorScale(), nil
	}
	return score.Load(path)
}

func buildEngine(name, midiPort string, sampleRate int) (scoreplay.Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "synth":
		return audio.New(sampleRate), nil
	case "midi":
		return midiengine.New(midiPort), nil
	default:
		return nil, fmt.Errorf("invalid -engine %q (expected synth|midi)", name)
	}
}
