package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestDecodeTaskFromContractOutput(t *testing.T) {
	parsed, err := parseTaskABI()
	require.NoError(t, err)

	publisher := common.HexToAddress("0x1234567890123456789012345678901234567890")
	reward, _ := new(big.Int).SetString("2000000000000000000", 10)
	out, err := parsed.Methods["getTask"].Outputs.Pack(
		big.NewInt(2), publisher, `{"en":"Develop a smart contract","zh":"开发智能合约"}`, "ERC-20 token",
		reward, false, true, common.HexToAddress(worker), big.NewInt(1640995200), big.NewInt(1641168000),
		"programming", "tests pass",
	)
	require.NoError(t, err)

	values, err := parsed.Unpack("getTask", out)
	require.NoError(t, err)
	task, err := decodeTask(values)
	require.NoError(t, err)

	require.Equal(t, uint64(2), task.ID)
	require.Equal(t, publisher.Hex(), task.Publisher)
	require.Equal(t, "开发智能合约", task.Title.Resolve("zh", ""))
	require.Equal(t, "ERC-20 token", task.Description.Resolve("zh", ""))
	require.Zero(t, task.Reward.Cmp(reward))
	require.True(t, task.IsClaimed)
	require.False(t, task.IsCompleted)
	require.Equal(t, int64(1641168000), task.Deadline)
	require.Equal(t, "programming", task.Category)
	require.NoError(t, Validate(task))
}

func TestDecodeIDsAndWorker(t *testing.T) {
	parsed, err := parseTaskABI()
	require.NoError(t, err)

	out, err := parsed.Methods["getAvailableTasks"].Outputs.Pack([]*big.Int{big.NewInt(0), big.NewInt(3), big.NewInt(9)})
	require.NoError(t, err)
	values, err := parsed.Unpack("getAvailableTasks", out)
	require.NoError(t, err)
	ids, err := decodeIDs(values)
	require.NoError(t, err)
	require.Equal(t, []uint64{3, 9}, ids)

	out, err = parsed.Methods["getWorker"].Outputs.Pack(common.HexToAddress(worker), big.NewInt(60), big.NewInt(2), big.NewInt(3e18), true)
	require.NoError(t, err)
	values, err = parsed.Unpack("getWorker", out)
	require.NoError(t, err)
	stats, err := decodeWorker(values)
	require.NoError(t, err)
	require.Equal(t, int64(60), stats.Reputation)
	require.Equal(t, uint64(2), stats.CompletedTasks)
	require.Equal(t, "3000000000000000000", stats.TotalEarnings.String())

	_, err = decodeTask(values)
	require.ErrorIs(t, err, errDecode)
}
