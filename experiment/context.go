package experiment

import "golang.org/x/text/language"

// AppContext is an immutable snapshot of the host application and device
// identity, supplied once at client construction. It is only ever used as
// targeting-evaluation input.
type AppContext struct {
	AppName            string
	AppID              string
	Channel            string
	AppVersion         string
	AppBuild           string
	Architecture       string
	DeviceManufacturer string
	DeviceModel        string

	// Locale is a BCP 47 tag such as "en-US". The language and region
	// subtags are exposed to targeting expressions as separate attributes.
	Locale string

	OS        string
	OSVersion string
	DebugTag  string

	// CustomAttributes lets the host expose additional targeting fields.
	// They are merged last and therefore shadow the built-in attributes on
	// key collision.
	CustomAttributes map[string]string
}

// TargetingAttributes flattens the context into the attribute map seen by
// targeting expressions. Keys are snake_case. Two derived attributes,
// "language" and "region", are split from Locale; an unparseable locale
// leaves them empty rather than failing evaluation.
func (c *AppContext) TargetingAttributes() map[string]any {
	attrs := map[string]any{
		"app_name":            c.AppName,
		"app_id":              c.AppID,
		"channel":             c.Channel,
		"app_version":         c.AppVersion,
		"app_build":           c.AppBuild,
		"architecture":        c.Architecture,
		"device_manufacturer": c.DeviceManufacturer,
		"device_model":        c.DeviceModel,
		"locale":              c.Locale,
		"os":                  c.OS,
		"os_version":          c.OSVersion,
		"debug_tag":           c.DebugTag,
		"language":            "",
		"region":              "",
	}
	if c.Locale != "" {
		if tag, err := language.Parse(c.Locale); err == nil {
			if base, conf := tag.Base(); conf > language.No {
				attrs["language"] = base.String()
			}
			// Only explicit region subtags count; x/text infers likely
			// regions for bare languages at lower confidence.
			if region, conf := tag.Region(); conf == language.Exact {
				attrs["region"] = region.String()
			}
		}
	}
	for k, v := range c.CustomAttributes {
		attrs[k] = v
	}
	return attrs
}
