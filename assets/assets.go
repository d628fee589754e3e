// Package assets bundles the default label files into the binary.
package assets

import "embed"

// Labels holds labels_a.txt through labels_d.txt at its root.
//
//go:embed *.txt
var Labels embed.FS
