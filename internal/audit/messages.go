package audit

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

// DefaultLocale is used when no locale is configured
const DefaultLocale = "pt-BR"

// Message IDs of the change-log catalog
const (
	CreatedOK           = "CreatedOK"
	CreatedWithGroup    = "CreatedWithGroup"
	CreatedWithNewGroup = "CreatedWithNewGroup"
	CreatedWithoutGroup = "CreatedWithoutGroup"
	CreatedWithoutLink  = "CreatedWithoutLink"

	WarningLinkFailed            = "WarningLinkFailed"
	WarningGroupCreateFailed     = "WarningGroupCreateFailed"
	WarningGroupNotLinked        = "WarningGroupNotLinked"
	WarningActivationInterrupted = "WarningActivationInterrupted"

	BlockOK             = "BlockOK"
	UnblockOK           = "UnblockOK"
	ResetOK             = "ResetOK"
	BlockFailed         = "BlockFailed"
	UnblockFailed       = "UnblockFailed"
	PasswordNotReturned = "PasswordNotReturned"

	EmptyUserCode    = "EmptyUserCode"
	EmptyExternalKey = "EmptyExternalKey"
	UnknownType      = "UnknownType"
	UnexpectedError  = "UnexpectedError"
	PersistFallback  = "PersistFallback"

	CodeAlreadyActive = "CodeAlreadyActive"
	CodeAlreadyExists = "CodeAlreadyExists"
	Code422           = "Code422"
	CodeAuth          = "CodeAuth"
	CodeNotFound      = "CodeNotFound"
	CodeServer        = "CodeServer"
	CodeUnknown       = "CodeUnknown"
)

//go:embed locales/*.json
var localeFS embed.FS

// Catalog resolves message IDs to change-log texts in one locale
type Catalog struct {
	locale    string
	localizer *i18n.Localizer
}

// NewCatalog loads the embedded catalogs and selects locale, falling back to DefaultLocale
func NewCatalog(locale string) (*Catalog, error) {
	bundle := i18n.NewBundle(language.MustParse(DefaultLocale))
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	files, err := fs.Glob(localeFS, "locales/*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list locale files: %w", err)
	}
	for _, file := range files {
		if _, err := bundle.LoadMessageFileFS(localeFS, file); err != nil {
			return nil, fmt.Errorf("failed to load locale file %s: %w", file, err)
		}
	}

	if locale == "" {
		locale = DefaultLocale
	}
	if _, err := language.Parse(locale); err != nil {
		log.Warnf("Invalid audit locale %q, using %s", locale, DefaultLocale)
		locale = DefaultLocale
	}

	return &Catalog{
		locale:    locale,
		localizer: i18n.NewLocalizer(bundle, locale, DefaultLocale),
	}, nil
}

// MustCatalog is NewCatalog for the embedded catalogs, which always load
func MustCatalog(locale string) *Catalog {
	c, err := NewCatalog(locale)
	if err != nil {
		panic(err)
	}
	return c
}

// Locale returns the requested locale
func (c *Catalog) Locale() string {
	return c.locale
}

// T returns the text for id; unknown IDs are returned unchanged
func (c *Catalog) T(id string) string {
	text, err := c.localizer.Localize(&i18n.LocalizeConfig{MessageID: id})
	if err != nil || text == "" {
		return id
	}
	return text
}
