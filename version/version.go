/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

package version

import (
	"fmt"
	"io"
)

const (
	Major = 1
	Minor = 0
	Point = 0
)

func GetVersion() string {
	return fmt.Sprintf("%d.%d.%d", Major, Minor, Point)
}

func PrintVersion(wtr io.Writer) {
	fmt.Fprintf(wtr, "Version:\t%s\n", GetVersion())
}
