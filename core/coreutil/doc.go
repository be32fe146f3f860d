// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// package coreutil provides utilities for core interfaces, that can be useful
// not only for connection, but other core importers too.
package coreutil
