package merkle

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// leafScale 金额转整数叶子时使用的小数位数，与存储精度一致
const leafScale = 18

// Tree Keccak256 承诺树。节点两两排序后哈希，证明无需携带方向位；
// 奇数节点直接晋级到上一层。
type Tree struct {
	leaves [][]byte
	levels [][][]byte // levels[0] 为叶子层
}

// BuildTree 由叶子构建承诺树
func BuildTree(leaves [][]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, errors.New("叶子不能为空")
	}

	t := &Tree{leaves: leaves}

	level := make([][]byte, len(leaves))
	copy(level, leaves)
	t.levels = append(t.levels, level)

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		t.levels = append(t.levels, next)
		level = next
	}

	return t, nil
}

// Root 返回承诺根
func (t *Tree) Root() []byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Proof 返回第 index 个叶子的包含性证明
func (t *Tree) Proof(index int) ([][]byte, error) {
	if index < 0 || index >= len(t.leaves) {
		return nil, errors.New("叶子下标越界")
	}

	var proof [][]byte
	for _, level := range t.levels[:len(t.levels)-1] {
		var sibling int
		if index%2 == 0 {
			sibling = index + 1
		} else {
			sibling = index - 1
		}
		if sibling < len(level) {
			node := make([]byte, len(level[sibling]))
			copy(node, level[sibling])
			proof = append(proof, node)
		}
		index /= 2
	}

	return proof, nil
}

// VerifyProof 用叶子和证明重算根并比对
func VerifyProof(root, leaf []byte, proof [][]byte) bool {
	computed := leaf
	for _, sibling := range proof {
		computed = hashPair(computed, sibling)
	}
	return bytes.Equal(computed, root)
}

// AllocationLeaf 计算分配叶子：Keccak256(地址20字节 || 金额按18位小数放大后的32字节大端整数)。
// 链上校验用整数精确比较，放大倍数必须与存储精度一致以免产生偏差。
func AllocationLeaf(walletAddress string, amount decimal.Decimal) []byte {
	addr := common.HexToAddress(walletAddress)
	scaled := amount.Shift(leafScale).Truncate(0).BigInt()

	buf := make([]byte, 52)
	copy(buf[:20], addr.Bytes())
	scaled.FillBytes(buf[20:])

	return crypto.Keccak256(buf)
}

// EmptyRoot 空叶子集合的承诺根（空输入的 Keccak256）
func EmptyRoot() []byte {
	return crypto.Keccak256()
}

// hashPair 排序后哈希一对节点
func hashPair(a, b []byte) []byte {
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256(a, b)
}
