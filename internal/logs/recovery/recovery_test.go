package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	uuidA   = "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	uuidB   = "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
	uuidNew = "cccccccc-cccc-cccc-cccc-cccccccccccc"
)

func genFixedUUID() string { return uuidNew }

func TestBuildPlanOnEmptyDirectoryGeneratesFreshCid(t *testing.T) {
	plan := BuildPlan(nil, genFixedUUID)
	assert.Empty(t, plan.ToDelete)
	assert.Empty(t, plan.ToRecover)
	assert.Equal(t, uuidNew, plan.NextCid)
}

func TestBuildPlanDeletesImproperlyNamedFiles(t *testing.T) {
	fileInfos := []FileInfo{
		{Path: "/tmp/logs/not-a-uuid.txt", UUID: "", Size: 100},
		{Path: "/tmp/logs/also-garbage", UUID: "", Size: 0},
	}
	plan := BuildPlan(fileInfos, genFixedUUID)
	assert.ElementsMatch(t, []string{"/tmp/logs/not-a-uuid.txt", "/tmp/logs/also-garbage"}, plan.ToDelete)
	assert.Empty(t, plan.ToRecover)
	assert.Equal(t, uuidNew, plan.NextCid)
}

func TestBuildPlanUsesEmptyTrailingUUIDFileAsNextCid(t *testing.T) {
	fileInfos := []FileInfo{
		{Path: "/tmp/logs/" + uuidA + ".log.zlib", UUID: uuidA, Size: 512},
		{Path: "/tmp/logs/" + uuidB + ".log.zlib", UUID: uuidB, Size: 0},
	}
	plan := BuildPlan(fileInfos, genFixedUUID)

	require.Len(t, plan.ToRecover, 1)
	assert.Equal(t, uuidA, plan.ToRecover[0].Cid)
	assert.Equal(t, uuidB, plan.ToRecover[0].NextCid)
	assert.Equal(t, uuidB, plan.NextCid)

	assert.Equal(t, []string{"/tmp/logs/" + uuidB + ".log.zlib"}, plan.ToDelete)
}

func TestBuildPlanDoesNotUseNonTrailingEmptyUUIDFileAsNextCid(t *testing.T) {
	fileInfos := []FileInfo{
		{Path: "/tmp/logs/" + uuidB + ".log.zlib", UUID: uuidB, Size: 0},
		{Path: "/tmp/logs/" + uuidA + ".log.zlib", UUID: uuidA, Size: 512},
	}
	plan := BuildPlan(fileInfos, genFixedUUID)

	require.Len(t, plan.ToRecover, 1)
	assert.Equal(t, uuidA, plan.ToRecover[0].Cid)
	assert.Equal(t, uuidNew, plan.ToRecover[0].NextCid)
	assert.Equal(t, uuidNew, plan.NextCid)

	assert.Equal(t, []string{"/tmp/logs/" + uuidB + ".log.zlib"}, plan.ToDelete)
}

func TestBuildPlanChainsCidsAcrossMultipleNonEmptyFiles(t *testing.T) {
	const uuidC = "dddddddd-dddd-dddd-dddd-dddddddddddd"
	fileInfos := []FileInfo{
		{Path: "/tmp/logs/" + uuidA + ".log.zlib", UUID: uuidA, Size: 512},
		{Path: "/tmp/logs/" + uuidB + ".log.zlib", UUID: uuidB, Size: 1024},
		{Path: "/tmp/logs/" + uuidC + ".log.zlib", UUID: uuidC, Size: 256},
	}
	plan := BuildPlan(fileInfos, genFixedUUID)

	require.Len(t, plan.ToRecover, 3)
	assert.Equal(t, ToRecover{Path: fileInfos[0].Path, Cid: uuidA, NextCid: uuidB}, plan.ToRecover[0])
	assert.Equal(t, ToRecover{Path: fileInfos[1].Path, Cid: uuidB, NextCid: uuidC}, plan.ToRecover[1])
	assert.Equal(t, ToRecover{Path: fileInfos[2].Path, Cid: uuidC, NextCid: uuidNew}, plan.ToRecover[2])
	assert.Equal(t, uuidNew, plan.NextCid)
	assert.Empty(t, plan.ToDelete)
}

func TestFilePrefixUUIDRejectsNonUUIDNames(t *testing.T) {
	assert.Equal(t, "", filePrefixUUID("/tmp/logs/messages.log"))
	assert.Equal(t, uuidA, filePrefixUUID("/tmp/logs/"+uuidA+".log.zlib"))
}
