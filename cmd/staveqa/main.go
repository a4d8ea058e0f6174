package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/mat"

	"github.com/nasa-jpl/staveqa/frame"
	"github.com/nasa-jpl/staveqa/imgrec"
	"github.com/nasa-jpl/staveqa/profile"
	"github.com/nasa-jpl/staveqa/temperature"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "staveqa.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func config() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

// debugLog sends the log to output/debug/staveqa_debug.log as well as stderr
func debugLog(c Config) func() {
	if !c.Debug {
		return func() {}
	}
	dir := filepath.Join(c.Output, "debug")
	if err := os.MkdirAll(dir, 0777); err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(filepath.Join(dir, "staveqa_debug.log"))
	if err != nil {
		log.Fatal(err)
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return func() {
		log.SetOutput(os.Stderr)
		f.Close()
	}
}

func root() {
	str := `staveqa checks the thermal performance of detector staves from thermal
camera frames.  It locates the stave in a frame, averages the temperature over
named regions of it and fits the temperature profile of its cooling pipes.

Usage:
	staveqa <command> [frame ...]

Commands:
	convert <csv ...>
	analyze <frame>
	profile <frame>
	run
	watch
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `staveqa is amenable to configuration via its .yaml file, staveqa.yml in the
working directory.  For a primer on YAML, see https://yaml.org/start.html
mkconf writes the defaults to start from.

Frames are CSV exports of the thermal camera, one image row per line, or FITS
files written by convert or by the recorder.  CSV frames are read in Units
(C, K or F) and converted to Celsius.

convert splits each CSV frame into its upper (left half) and lower (right
half) face and writes <Output>/<name>_upper.fits and <name>_lower.fits.

analyze finds the stave inside Window, adds the regions listed in the
Parameters file and prints the boundary and the region temperatures.

profile finds the stave, fits the pipe of Face (top or bottom) column by
column and writes the plots and profile.csv to <Output>/<name>.

run serves the analysis over HTTP at Addr, under Endpoint.  GET /route-list
lists every route.  POST <Endpoint>/lock {"bool": true} freezes the stave.

watch fetches frames from Fetch.URL at Fetch.Rate per second and records each
face to <Output>/frames until interrupted.

Debug: true logs every failed column fit and copies the log to
<Output>/debug/staveqa_debug.log.`
	fmt.Println(str)
}

func mkconf() {
	c := config()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("staveqa version %v\n", Version)
}

func convert(paths []string) {
	c := config()
	defer debugLog(c)()
	if len(paths) == 0 {
		log.Fatal("convert needs at least one CSV frame")
	}
	if err := os.MkdirAll(c.Output, 0777); err != nil {
		log.Fatal(err)
	}
	spinner, err := newSpinner("converting")
	if err != nil {
		log.Fatal(err)
	}
	for _, path := range paths {
		spinner.Message(path)
		if strings.ToLower(filepath.Ext(path)) != ".csv" {
			spinner.StopFail()
			log.Fatalf("%s: the input file should be a .csv file", path)
		}
		m, meta, err := loadFrame(c, path)
		if err != nil {
			spinner.StopFail()
			log.Fatal(err)
		}
		rows, cols := m.Dims()
		log.Printf("%s: image of %d rows and %d columns\n", path, rows, cols)
		upper, lower, err := frame.SplitFaces(m)
		if err != nil {
			spinner.StopFail()
			log.Fatal(err)
		}
		for _, face := range []struct {
			name string
			img  mat.Matrix
		}{{"upper", upper}, {"lower", lower}} {
			meta.Face = face.name
			fn := filepath.Join(c.Output, frame.Stem(path)+"_"+face.name+".fits")
			if err = writeFITS(fn, face.img, meta); err != nil {
				spinner.StopFail()
				log.Fatal(err)
			}
		}
	}
	spinner.Stop()
}

func writeFITS(fn string, m mat.Matrix, meta frame.Metadata) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	err = frame.WriteFITS(f, m, meta)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func analyze(paths []string) {
	c := config()
	defer debugLog(c)()
	if len(paths) != 1 {
		log.Fatal("analyze needs exactly one frame")
	}
	m, _, err := loadFrame(c, paths[0])
	if err != nil {
		log.Fatal(err)
	}
	s, err := locate(c, m)
	if err != nil {
		log.Fatal(err)
	}
	if err = s.ApplyPresets(); err != nil {
		log.Fatal(err)
	}
	if err = s.Echo(os.Stdout); err != nil {
		log.Fatal(err)
	}
	for _, tag := range s.Tags() {
		temps, err := s.Temperatures(tag)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%q: %.2f\n", tag, temps)
	}
}

func runProfile(paths []string) {
	c := config()
	defer debugLog(c)()
	if len(paths) != 1 {
		log.Fatal("profile needs exactly one frame")
	}
	face, err := profile.ParseFace(c.Face)
	if err != nil {
		log.Fatal(err)
	}
	m, _, err := loadFrame(c, paths[0])
	if err != nil {
		log.Fatal(err)
	}
	s, err := locate(c, m)
	if err != nil {
		log.Fatal(err)
	}
	crop, err := s.Crop()
	if err != nil {
		log.Fatal(err)
	}

	spinner, err := newSpinner("fitting " + face.String() + " pipe")
	if err != nil {
		log.Fatal(err)
	}
	res := profile.Run(crop, profile.Options{
		Face:    face,
		LoopCut: c.LoopCut,
		Debug:   c.Debug,
		Progress: func(done, total int) {
			spinner.Message(fmt.Sprintf("column %d of %d", done, total))
		},
	})
	spinner.StopMessage(fmt.Sprintf("%d columns, %d failed fits", len(res.X), res.Failed))
	spinner.Stop()

	dir := filepath.Join(c.Output, frame.Stem(paths[0]))
	if err = profile.SavePlots(res, dir); err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(filepath.Join(dir, "profile.csv"))
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err = profile.WriteCSV(f, res); err != nil {
		log.Fatal(err)
	}
	log.Println("profile written to", dir)
}

func run() {
	c := config()
	defer debugLog(c)()
	mux, err := BuildMux(c)
	if err != nil {
		log.Fatal(err)
	}
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func watch() {
	c := config()
	defer debugLog(c)()
	if c.Fetch.URL == "" || c.Fetch.Rate <= 0 {
		log.Fatal("watch needs Fetch.URL and a positive Fetch.Rate")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	units, err := temperature.ParseUnit(c.Units)
	if err != nil {
		log.Fatal(err)
	}

	rec := &imgrec.Recorder{Root: filepath.Join(c.Output, "frames"), Prefix: c.Prefix}
	fetcher := frame.Fetcher{URL: c.Fetch.URL, MaxElapsed: c.Fetch.Timeout}
	lim := rate.NewLimiter(rate.Limit(c.Fetch.Rate), 1)
	sink := func(m *mat.Dense, meta frame.Metadata) error {
		frame.ToCelsius(m, units)
		meta.Unit = temperature.UnitC
		upper, lower, err := frame.SplitFaces(m)
		if err != nil {
			log.Println(err)
			return nil
		}
		for _, face := range []struct {
			name string
			img  mat.Matrix
		}{{"upper", upper}, {"lower", lower}} {
			meta.Face = face.name
			fn, err := rec.Record(face.img, meta)
			if err != nil {
				return err
			}
			log.Println("recorded", fn)
		}
		return nil
	}
	onErr := func(err error) { log.Println("fetch failed:", err) }
	log.Println("watching", c.Fetch.URL)
	if err = frame.Watch(ctx, fetcher, lim, sink, onErr); err != nil {
		log.Fatal(err)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "version":
		pversion()
	case "convert":
		convert(args[2:])
	case "analyze":
		analyze(args[2:])
	case "profile":
		runProfile(args[2:])
	case "run":
		run()
	case "watch":
		watch()
	default:
		log.Fatal("unknown command")
	}
}
