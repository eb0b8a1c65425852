//go:build windows

package servicelocation

import (
	"golang.org/x/sys/windows"

	"github.com/defguard/client/internal/errors"
)

// serviceSDDL grants Local System and Administrators full control and
// nothing else, with inheritance from the parent directory broken — the
// ACL spec.md §4.G requires on every service-location state file.
const serviceSDDL = "D:P(A;;FA;;;SY)(A;;FA;;;BA)"

// applyACL rewrites path's security descriptor to serviceSDDL, matching
// the original Windows-only implementation's SYSTEM/Administrators-only
// ACL composed as SDDL.
func applyACL(path string) error {
	sd, err := windows.SecurityDescriptorFromString(serviceSDDL)
	if err != nil {
		return errors.Wrap(errors.KindIO, "parse service ACL SDDL", err)
	}
	dacl, _, err := sd.DACL()
	if err != nil {
		return errors.Wrap(errors.KindIO, "read service ACL DACL", err)
	}
	if err := windows.SetNamedSecurityInfo(
		path,
		windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION|windows.PROTECTED_DACL_SECURITY_INFORMATION,
		nil, nil, dacl, nil,
	); err != nil {
		return errors.Wrap(errors.KindIO, "apply service ACL to "+path, err)
	}
	return nil
}
