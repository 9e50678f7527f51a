/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

package log

import (
	"fmt"

	"github.com/crewjam/rfc5424"
)

// KV builds a structured data parameter from an arbitrary value.
func KV(name string, value interface{}) (r rfc5424.SDParam) {
	r.Name = name
	switch v := value.(type) {
	case string:
		r.Value = v
	case fmt.Stringer:
		r.Value = v.String()
	case error:
		r.Value = v.Error()
	default:
		r.Value = fmt.Sprintf("%v", value)
	}
	return
}

// KVErr is a convenience wrapper for the extremely common error KV.
func KVErr(err error) rfc5424.SDParam {
	return KV(`error`, err)
}
