package jailspec

import "fmt"

// WarningCode classifies non-fatal findings produced while planning.
type WarningCode string

const WarnPortsTreeUndeclared WarningCode = "PortsTreeUndeclared"

// Warning is a non-fatal planning finding. Planning continues.
type Warning struct {
	Code    WarningCode `json:"code"`
	Subject string      `json:"subject"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Code, w.Message)
}

// PortsTreeUndeclared builds the warning for a jail that references a
// ports tree nobody declared. The legacy misspelled default gets its own
// message so old manifests can be fixed.
func PortsTreeUndeclared(jail, tree string) Warning {
	msg := fmt.Sprintf("jail %s references ports tree %q which is not declared", jail, tree)
	if tree == LegacyPortsTreeAlias {
		msg = fmt.Sprintf("jail %s uses ports tree %q, the misspelled legacy default; declare it or set portstree to %q",
			jail, tree, DefaultPortsTree)
	}
	return Warning{Code: WarnPortsTreeUndeclared, Subject: tree, Message: msg}
}
