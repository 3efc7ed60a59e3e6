package platform

import (
	"errors"
	"fmt"

	"github.com/blang/semver/v4"
)

// Generation is a supported host platform release family.
type Generation int

const (
	GenerationUnsupported Generation = iota
	Generation2012R2
	Generation2016
	Generation2019
)

func (g Generation) String() string {
	switch g {
	case Generation2012R2:
		return "2012R2"
	case Generation2016:
		return "2016"
	case Generation2019:
		return "2019"
	default:
		return "unsupported"
	}
}

// ErrUnsupportedGeneration is returned when the platform version matches no
// supported generation.
var ErrUnsupportedGeneration = errors.New("unsupported platform generation")

// Version is the platform release information read from the local node.
type Version struct {
	CurrentVersion   string `json:"CurrentVersion" yaml:"CurrentVersion"`
	CurrentBuild     int    `json:"CurrentBuild" yaml:"CurrentBuild"`
	MajorVersion     int    `json:"CurrentMajorVersionNumber" yaml:"CurrentMajorVersionNumber"`
	MinorVersion     int    `json:"CurrentMinorVersionNumber" yaml:"CurrentMinorVersionNumber"`
	ProductName      string `json:"ProductName" yaml:"ProductName"`
	InstallationType string `json:"InstallationType" yaml:"InstallationType"`
}

var generationRanges = []struct {
	gen Generation
	rng semver.Range
}{
	{Generation2019, semver.MustParseRange(">=10.0.17763")},
	{Generation2016, semver.MustParseRange(">=10.0.14393 <10.0.17763")},
	{Generation2012R2, semver.MustParseRange(">=6.3.9600 <6.4.0")},
}

// Semver normalizes the platform version into major.minor.build. Older
// releases carry no major/minor numbers and only the "6.3" style string.
func (v Version) Semver() (semver.Version, error) {
	raw := v.CurrentVersion
	if v.MajorVersion > 0 {
		raw = fmt.Sprintf("%d.%d", v.MajorVersion, v.MinorVersion)
	}
	base, err := semver.ParseTolerant(raw)
	if err != nil {
		return semver.Version{}, fmt.Errorf("parse platform version %q: %w", raw, err)
	}
	base.Patch = uint64(v.CurrentBuild)
	return base, nil
}

// DetectGeneration maps the platform version to a supported generation.
func DetectGeneration(v Version) (Generation, error) {
	sv, err := v.Semver()
	if err != nil {
		return GenerationUnsupported, err
	}
	for _, r := range generationRanges {
		if r.rng(sv) {
			return r.gen, nil
		}
	}
	return GenerationUnsupported, fmt.Errorf("%w: %s", ErrUnsupportedGeneration, sv)
}
