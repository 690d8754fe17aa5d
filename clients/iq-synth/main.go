// Command iq-synth writes a synthetic OOK capture of one key-fob frame.
// The capture can be replayed through the subcar service with
// --input <file> --format <fmt>.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/cwsl/ubersdr_subcar/iqsynth"
	"github.com/cwsl/ubersdr_subcar/ook"
	"github.com/cwsl/ubersdr_subcar/subcar"
	"github.com/cwsl/ubersdr_subcar/subcar/subcartest"
)

func parseHex(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
}

func main() {
	defaults := iqsynth.DefaultOptions()

	var protocol = pflag.StringP("protocol", "p", "Suzuki", "Protocol name, see --list.")
	var data = pflag.StringP("data", "d", "", "Payload in hex. Defaults to the protocol's reference packet.")
	var data2 = pflag.String("data2", "0", "Second payload word in hex.")
	var bits = pflag.IntP("bits", "b", 0, "Bit count for protocols with a variable length.")
	var format = pflag.StringP("format", "f", "cu8", "Output sample format: cu8, cs8 or cs16.")
	var output = pflag.StringP("output", "o", "", "Output file. A .zst suffix compresses the capture.")
	var upsample = pflag.IntP("upsample", "u", 8, "Upsampling factor over 500 kHz. 8 gives a 4 MHz capture for the default decimation.")
	var repeat = pflag.IntP("repeat", "r", 3, "Number of frame repetitions.")
	var amplitude = pflag.Float64("amplitude", defaults.Amplitude, "Carrier amplitude in int16 units.")
	var noise = pflag.Float64("noise", defaults.Noise, "Noise standard deviation in int16 units.")
	var seed = pflag.Uint64("seed", defaults.Seed, "Noise seed.")
	var list = pflag.BoolP("list", "l", false, "List protocols and exit.")
	var verbose = pflag.BoolP("verbose", "v", false, "Debug logging.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - write a synthetic key-fob capture\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] --output FILE\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "iq-synth"})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	if *list {
		for _, p := range subcartest.Packets() {
			fmt.Printf("%-10s e.g. --data %X --data2 %X --bits %d\n", p.Protocol, p.Data, p.Data2, p.BitCount)
		}
		os.Exit(0)
	}

	if *output == "" {
		pflag.Usage()
		os.Exit(1)
	}

	id, err := subcar.ParseProtocol(*protocol)
	if err != nil {
		logger.Fatal("bad --protocol", "err", err)
	}
	fmtID, err := ook.ParseFormat(*format)
	if err != nil {
		logger.Fatal("bad --format", "err", err)
	}

	pkt := subcartest.Packets()[id-1]
	if *data != "" {
		if pkt.Data, err = parseHex(*data); err != nil {
			logger.Fatal("bad --data", "err", err)
		}
		if pkt.Data2, err = parseHex(*data2); err != nil {
			logger.Fatal("bad --data2", "err", err)
		}
	}
	if *bits > 0 {
		pkt.BitCount = uint16(*bits)
	}

	frame, err := subcartest.Encode(pkt)
	if err != nil {
		logger.Fatal("cannot encode packet", "err", err)
	}

	var train subcartest.Train
	for i := 0; i < max(*repeat, 1); i++ {
		train = append(train, frame...)
	}

	opts := defaults
	opts.Amplitude = *amplitude
	opts.Noise = *noise
	opts.Seed = *seed

	samples := iqsynth.Upsample(iqsynth.Render(train, opts), *upsample)
	rate := opts.SampleRate * max(*upsample, 1)

	logger.Debug("rendered", "pulses", len(train), "samples", len(samples))

	if err := iqsynth.WriteFile(*output, samples, fmtID); err != nil {
		logger.Fatal("write failed", "err", err)
	}

	logger.Info("capture written",
		"file", *output,
		"protocol", pkt.Protocol.String(),
		"data", fmt.Sprintf("%016X", pkt.Data),
		"data2", fmt.Sprintf("%016X", pkt.Data2),
		"format", fmtID.String(),
		"sample_rate", rate,
		"seconds", float64(len(samples))/float64(rate))
}
