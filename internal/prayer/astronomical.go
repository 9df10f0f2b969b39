package prayer

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	goprayer "github.com/hablullah/go-prayer"

	"prayeralert/internal/config"
	appLog "prayeralert/internal/log"
	"prayeralert/internal/model"
)

var ErrUnknownMethod = errors.New("unknown calculation method")

// Methods lists the accepted calculation method names.
var Methods = []string{"MWL", "ISNA", "EGYPT", "KARACHI", "UMMALQURA", "GULF", "MUIS", "JAKIM", "KEMENAG", "DIYANET"}

type yearKey struct {
	year     int
	lat, lon float64
	method   string
}

// Astronomical computes prayer times from the sun's position for the given
// coordinates. Schedules are produced a year at a time and kept.
type Astronomical struct {
	loc    *time.Location
	hanafi bool

	mu    sync.Mutex
	years map[yearKey]map[string]goprayer.Schedule
}

// NewAstronomical returns times in loc. madhab "hanafi" selects the later
// Asr; anything else uses the majority (Shafi'i) shadow length.
func NewAstronomical(loc *time.Location, madhab string) *Astronomical {
	if loc == nil {
		loc = time.UTC
	}
	return &Astronomical{
		loc:    loc,
		hanafi: strings.EqualFold(strings.TrimSpace(madhab), "hanafi"),
		years:  make(map[yearKey]map[string]goprayer.Schedule),
	}
}

func (a *Astronomical) Times(coords Coordinates, date time.Time, method string) ([]model.PrayerTime, error) {
	d := date.In(a.loc)
	key := yearKey{year: d.Year(), lat: coords.Latitude, lon: coords.Longitude, method: strings.ToUpper(strings.TrimSpace(method))}

	days, err := a.year(key, coords)
	if err != nil {
		return nil, err
	}
	day, ok := days[d.Format(time.DateOnly)]
	if !ok {
		return nil, fmt.Errorf("%w: no schedule for %s", ErrMissingTime, d.Format(time.DateOnly))
	}

	times := map[model.PrayerName]time.Time{
		model.Fajr:    day.Fajr,
		model.Dhuhr:   day.Zuhr,
		model.Asr:     day.Asr,
		model.Maghrib: day.Maghrib,
		model.Isha:    day.Isha,
	}
	out := make([]model.PrayerTime, 0, len(model.CanonicalPrayers))
	for _, name := range model.CanonicalPrayers {
		t := times[name]
		if t.IsZero() {
			return nil, fmt.Errorf("%w: %s on %s", ErrMissingTime, name, day.Date)
		}
		out = append(out, model.PrayerTime{Name: name, DisplayName: string(name), Time: t.In(a.loc)})
	}
	return out, nil
}

func (a *Astronomical) year(key yearKey, coords Coordinates) (map[string]goprayer.Schedule, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if days, ok := a.years[key]; ok {
		return days, nil
	}

	cfg := goprayer.Config{
		Latitude:  coords.Latitude,
		Longitude: coords.Longitude,
		Timezone:  a.loc,
	}
	switch key.method {
	case "MWL":
		cfg.TwilightConvention = goprayer.MWL()
	case "ISNA":
		cfg.TwilightConvention = goprayer.ISNA()
	case "EGYPT":
		cfg.TwilightConvention = goprayer.Egypt()
	case "KARACHI":
		cfg.TwilightConvention = goprayer.Karachi()
	case "UMMALQURA":
		cfg.TwilightConvention = goprayer.UmmAlQura()
	case "GULF":
		cfg.TwilightConvention = goprayer.Gulf()
	case "MUIS":
		cfg.TwilightConvention = goprayer.MUIS()
	case "JAKIM":
		cfg.TwilightConvention = goprayer.JAKIM()
	case "KEMENAG":
		cfg.TwilightConvention = goprayer.Kemenag()
	case "DIYANET":
		cfg.TwilightConvention = goprayer.Diyanet()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, key.method)
	}
	if a.hanafi {
		cfg.AsrConvention = goprayer.Hanafi
	} else {
		cfg.AsrConvention = goprayer.Shafii
	}

	schedules, err := goprayer.Calculate(cfg, key.year)
	if err != nil {
		return nil, fmt.Errorf("calculate %d prayer times: %w", key.year, err)
	}
	days := make(map[string]goprayer.Schedule, len(schedules))
	for _, s := range schedules {
		days[s.Date] = s
	}
	a.years[key] = days
	appLog.Debug("prayer times calculated",
		"year", key.year,
		"method", key.method,
		"latitude", coords.Latitude,
		"longitude", coords.Longitude,
	)
	return days, nil
}

// Overrides replaces some prayers of a base calculator with fixed local
// times, e.g. a mosque's published iqama for Isha.
type Overrides struct {
	base  Calculator
	loc   *time.Location
	times map[model.PrayerName]clock
}

func (o *Overrides) Times(coords Coordinates, date time.Time, method string) ([]model.PrayerTime, error) {
	out, err := o.base.Times(coords, date, method)
	if err != nil {
		return nil, err
	}
	d := date.In(o.loc)
	for i, p := range out {
		if c, ok := o.times[p.Name]; ok {
			out[i].Time = time.Date(d.Year(), d.Month(), d.Day(), c.hour, c.minute, 0, 0, o.loc)
		}
	}
	return out, nil
}

// NewCalculator picks the calculator for the calculation section. Without a
// timetable the times are astronomical; a complete timetable replaces the
// calculation; a partial one overrides only the prayers it names.
func NewCalculator(cfg config.CalculationConfig, loc *time.Location) (Calculator, error) {
	if loc == nil {
		loc = time.UTC
	}
	times, err := parseEntries(cfg.Timetable)
	if err != nil {
		return nil, err
	}
	if len(times) == len(model.CanonicalPrayers) {
		return &Timetable{loc: loc, times: times}, nil
	}

	if !slices.Contains(Methods, strings.ToUpper(strings.TrimSpace(cfg.Method))) {
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownMethod, cfg.Method, strings.Join(Methods, ", "))
	}
	astro := NewAstronomical(loc, cfg.Madhab)
	if len(times) == 0 {
		return astro, nil
	}
	return &Overrides{base: astro, loc: loc, times: times}, nil
}
