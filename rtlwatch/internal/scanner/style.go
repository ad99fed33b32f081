package scanner

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/rtlfix/rtlwatch/internal/dom"
	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
)

// ApplyPreferences writes the present fields of u as root CSS custom
// properties. Absent fields leave the current value alone. Both properties
// are attempted even if the first write fails.
func ApplyPreferences(doc dom.Document, u rtl.Update) error {
	var errs []error
	if u.FontSize != nil && *u.FontSize > 0 {
		if err := doc.SetRootProperty(rtl.FontSizeVar, rtl.FontSizeValue(*u.FontSize)); err != nil {
			errs = append(errs, fmt.Errorf("scanner: set %s: %w", rtl.FontSizeVar, err))
		}
	}
	if u.LineHeight != nil && *u.LineHeight > 0 {
		if err := doc.SetRootProperty(rtl.LineHeightVar, rtl.LineHeightValue(*u.LineHeight)); err != nil {
			errs = append(errs, fmt.Errorf("scanner: set %s: %w", rtl.LineHeightVar, err))
		}
	}
	return errors.Join(errs...)
}
