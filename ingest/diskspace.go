// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ingest

import (
	"fmt"

	"github.com/poiesic/convodex/core"
	"golang.org/x/sys/unix"
)

// checkDiskSpace fails with ErrInsufficientDiskSpace when the filesystem
// holding path has less than minFree bytes available to this process.
func checkDiskSpace(path string, minFree uint64) error {
	if minFree == 0 {
		return nil
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Errorf("statfs %s: %w", path, err)
	}

	free := stat.Bavail * uint64(stat.Bsize)
	if free < minFree {
		return fmt.Errorf("%w: %d bytes free on %s, need %d",
			core.ErrInsufficientDiskSpace, free, path, minFree)
	}
	return nil
}
