package iso9660

import (
	"github.com/davejbax/go-isofs/internal/builder"
	"github.com/davejbax/go-isofs/internal/rockridge"
	"github.com/davejbax/go-isofs/internal/spec"
	"github.com/sirupsen/logrus"
	"time"
)

// Options configure a new image. The zero value describes an interchange level 1 image with no extensions.
type Options struct {
	// InterchangeLevel is 1 to 4. Zero means 1.
	InterchangeLevel int `yaml:"interchange_level"`

	// RockRidge is the Rock Ridge version to record, "1.09" or "1.12", or empty for none
	RockRidge string `yaml:"rock_ridge"`

	Joliet       bool `yaml:"joliet"`
	XA           bool `yaml:"xa"`
	DuplicatePVD bool `yaml:"duplicate_pvd"`

	SystemIdentifier        string `yaml:"system_identifier"`
	VolumeIdentifier        string `yaml:"volume_identifier"`
	VolumeSetIdentifier     string `yaml:"volume_set_identifier"`
	PublisherIdentifier     string `yaml:"publisher_identifier"`
	DataPreparerIdentifier  string `yaml:"data_preparer_identifier"`
	ApplicationIdentifier   string `yaml:"application_identifier"`
	CopyrightFileIdentifier string `yaml:"copyright_file_identifier"`
	AbstractFileIdentifier  string `yaml:"abstract_file_identifier"`
	BibliographicFileID     string `yaml:"bibliographic_file_identifier"`

	// SetSize and SequenceNumber place the volume in a volume set. Zero means 1.
	SetSize        uint16 `yaml:"set_size"`
	SequenceNumber uint16 `yaml:"sequence_number"`

	// ApplicationUse is copied into the application use field of the volume descriptors. It may be up to 512 bytes, or
	// 141 bytes with XA, which records its signature after it.
	ApplicationUse string `yaml:"application_use"`

	// Expiration and Effective are recorded in the volume descriptors; zero means 'not specified'
	Expiration time.Time `yaml:"expiration"`
	Effective  time.Time `yaml:"effective"`

	// Clock supplies creation and recording times. Defaults to time.Now.
	Clock func() time.Time `yaml:"-"`

	// Logger receives debug output. Defaults to the logrus standard logger.
	Logger logrus.FieldLogger `yaml:"-"`
}

// Identifier field limits
const (
	maxShortIdentifier = 32
	maxLongIdentifier  = 128
	maxFileIdentifier  = 37
	maxApplicationUse  = 512
)

// normalize fills in defaults and validates the options
func (o Options) normalize() (Options, error) {
	if o.InterchangeLevel == 0 {
		o.InterchangeLevel = 1
	}
	if o.SetSize == 0 {
		o.SetSize = 1
	}
	if o.SequenceNumber == 0 {
		o.SequenceNumber = 1
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}

	if o.InterchangeLevel < 1 || o.InterchangeLevel > 4 {
		return o, invalidArgument("interchange level must be 1 to 4, got %d", o.InterchangeLevel)
	}

	if o.RockRidge != "" {
		if _, err := rockridge.ParseVersion(o.RockRidge); err != nil {
			return o, invalidArgument("%w", err)
		}
	}

	if o.SequenceNumber > o.SetSize {
		return o, invalidArgument("sequence number %d is greater than the set size %d", o.SequenceNumber, o.SetSize)
	}

	fields := []struct {
		name  string
		value string
		limit int
	}{
		{"system identifier", o.SystemIdentifier, maxShortIdentifier},
		{"volume identifier", o.VolumeIdentifier, maxShortIdentifier},
		{"volume set identifier", o.VolumeSetIdentifier, maxLongIdentifier},
		{"publisher identifier", o.PublisherIdentifier, maxLongIdentifier},
		{"data preparer identifier", o.DataPreparerIdentifier, maxLongIdentifier},
		{"application identifier", o.ApplicationIdentifier, maxLongIdentifier},
		{"copyright file identifier", o.CopyrightFileIdentifier, maxFileIdentifier},
		{"abstract file identifier", o.AbstractFileIdentifier, maxFileIdentifier},
		{"bibliographic file identifier", o.BibliographicFileID, maxFileIdentifier},
	}

	for _, field := range fields {
		if len(field.value) > field.limit {
			return o, invalidArgument("%s is %d bytes, at most %d are allowed", field.name, len(field.value), field.limit)
		}
	}

	limit := maxApplicationUse
	if o.XA {
		limit = spec.XASignatureOffset
	}
	if len(o.ApplicationUse) > limit {
		return o, invalidArgument("application use is %d bytes, at most %d are allowed", len(o.ApplicationUse), limit)
	}

	return o, nil
}

func (o *Options) identifiers() *builder.Identifiers {
	now := o.Clock()

	return &builder.Identifiers{
		System:         o.SystemIdentifier,
		Volume:         o.VolumeIdentifier,
		VolumeSet:      o.VolumeSetIdentifier,
		Publisher:      o.PublisherIdentifier,
		DataPreparer:   o.DataPreparerIdentifier,
		Application:    o.ApplicationIdentifier,
		Copyright:      o.CopyrightFileIdentifier,
		Abstract:       o.AbstractFileIdentifier,
		Bibliographic:  o.BibliographicFileID,
		SetSize:        o.SetSize,
		SequenceNumber: o.SequenceNumber,
		ApplicationUse: []byte(o.ApplicationUse),
		Created:        now,
		Modified:       now,
		Expiration:     o.Expiration,
		Effective:      o.Effective,
	}
}

// OpenOption configures how an existing image is opened
type OpenOption func(*Options)

// WithLogger sets the logger of an opened image
func WithLogger(logger logrus.FieldLogger) OpenOption {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithClock sets the clock used for entries added to an opened image
func WithClock(clock func() time.Time) OpenOption {
	return func(o *Options) {
		o.Clock = clock
	}
}
