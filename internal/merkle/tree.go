// Package merkle implements the content-addressed binary Merkle tree over
// (claimant, amount) leaves used by the BAM-subsidy distribution generator
// (§4.3) and read back by reward attribution proof bookkeeping (§3.2/§6).
//
// Construction is order-preserving (no leaf sorting): odd layers duplicate
// the trailing node to pair it, exactly as spec'd. Leaf hashes are domain
// separated from internal-node hashes with a single prefix byte to prevent
// the second-preimage equivalence classically possible between a leaf and
// an internal node of a binary Merkle tree
// (https://flawed.net.nz/2018/02/21/attacking-merkle-trees-with-a-second-preimage-attack).
package merkle

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
)

// leafDomainPrefix separates leaf hashes from internal-node hashes.
const leafDomainPrefix = 0x00

// MaxNumNodes is the largest tree this implementation will build, matching
// the spec's height-32 ceiling (2^32 - 1 leaves).
const MaxNumNodes = (1 << 32) - 1

// Entry is a single (claimant, amount) contribution before deduplication.
type Entry struct {
	Claimant solana.PublicKey
	Amount   uint64
}

// TreeNode is a deduplicated leaf with its proof attached once the tree is
// built. Mirrors the wire schema in §6.
type TreeNode struct {
	Claimant solana.PublicKey `json:"claimant"`
	Amount   uint64        `json:"amount"`
	Proof    [][32]byte    `json:"proof,omitempty"`
}

// Tree is the immutable, read-only-after-construction Merkle tree.
type Tree struct {
	Root          [32]byte   `json:"merkle_root"`
	MaxNumNodes   uint64     `json:"max_num_nodes"`
	MaxTotalClaim uint64     `json:"max_total_claim"`
	TreeNodes     []TreeNode `json:"tree_nodes"`
}

// rawLeafHash computes H(claimant || amount_le_bytes), the un-prefixed
// per-node hash referenced throughout §4.3 and §8.
func rawLeafHash(claimant solana.PublicKey, amount uint64) [32]byte {
	var amountLE [8]byte
	binary.LittleEndian.PutUint64(amountLE[:], amount)
	h := sha256.New()
	h.Write(claimant.Bytes())
	h.Write(amountLE[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// domainLeaf applies the leaf domain prefix to a raw leaf hash; this is the
// value actually placed at the tree's leaf level and the value any verifier
// must recompute from (claimant, amount) to check a proof.
func domainLeaf(raw [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{leafDomainPrefix})
	h.Write(raw[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func hashPair(left, right [32]byte) [32]byte {
	h := sha256.New()
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Build deduplicates entries by claimant (summing amounts, checked for
// overflow, preserving first-seen insertion order), then constructs the
// tree and attaches a proof to every node. It is the BAM-subsidy generator
// operation of §4.3.
func Build(entries []Entry) (*Tree, error) {
	order := make([]solana.PublicKey, 0, len(entries))
	byClaimant := make(map[solana.PublicKey]*TreeNode, len(entries))
	for _, e := range entries {
		if existing, ok := byClaimant[e.Claimant]; ok {
			sum := existing.Amount + e.Amount
			if sum < existing.Amount {
				return nil, fmt.Errorf("merkle: overflow summing amounts for claimant %s", e.Claimant)
			}
			existing.Amount = sum
			continue
		}
		node := &TreeNode{Claimant: e.Claimant, Amount: e.Amount}
		byClaimant[e.Claimant] = node
		order = append(order, e.Claimant)
	}

	nodes := make([]TreeNode, len(order))
	for i, claimant := range order {
		nodes[i] = *byClaimant[claimant]
	}

	if uint64(len(nodes)) > MaxNumNodes {
		return nil, fmt.Errorf("merkle: %d nodes exceeds max %d", len(nodes), MaxNumNodes)
	}

	leaves := make([][32]byte, len(nodes))
	var total uint64
	for i, n := range nodes {
		leaves[i] = domainLeaf(rawLeafHash(n.Claimant, n.Amount))
		newTotal := total + n.Amount
		if newTotal < total {
			return nil, fmt.Errorf("merkle: overflow computing max_total_claim")
		}
		total = newTotal
	}

	levels := buildLevels(leaves)
	root := [32]byte{}
	if len(levels) > 0 {
		top := levels[len(levels)-1]
		if len(top) != 1 {
			return nil, errors.New("merkle: construction did not reduce to a single root")
		}
		root = top[0]
	}

	for i := range nodes {
		nodes[i].Proof = proofForIndex(levels, i)
	}

	t := &Tree{
		Root:          root,
		MaxNumNodes:   uint64(len(nodes)),
		MaxTotalClaim: total,
		TreeNodes:     nodes,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// buildLevels returns every layer of the tree, level 0 being the leaves,
// duplicating the trailing node of any odd-length layer to pair it.
func buildLevels(leaves [][32]byte) [][][32]byte {
	if len(leaves) == 0 {
		return nil
	}
	levels := [][][32]byte{leaves}
	current := leaves
	for len(current) > 1 {
		paired := current
		if len(paired)%2 == 1 {
			paired = append(append([][32]byte{}, paired...), paired[len(paired)-1])
		}
		next := make([][32]byte, 0, len(paired)/2)
		for i := 0; i < len(paired); i += 2 {
			next = append(next, hashPair(paired[i], paired[i+1]))
		}
		levels = append(levels, next)
		current = next
	}
	return levels
}

// proofForIndex walks the level array bottom-up, collecting the sibling
// hash at each level for leaf `index`.
func proofForIndex(levels [][][32]byte, index int) [][32]byte {
	var proof [][32]byte
	idx := index
	for level := 0; level < len(levels)-1; level++ {
		layer := levels[level]
		siblingIdx := idx ^ 1
		var sibling [32]byte
		if siblingIdx < len(layer) {
			sibling = layer[siblingIdx]
		} else {
			sibling = layer[idx] // odd-layer self-duplication
		}
		proof = append(proof, sibling)
		idx /= 2
	}
	return proof
}

// Verify recomputes the domain-separated leaf hash for (claimant, amount)
// and walks proof against root using index to determine, at each level,
// whether the running hash is the left or right child.
func Verify(root [32]byte, claimant solana.PublicKey, amount uint64, proof [][32]byte, index uint64) bool {
	current := domainLeaf(rawLeafHash(claimant, amount))
	idx := index
	for _, sibling := range proof {
		if idx%2 == 0 {
			current = hashPair(current, sibling)
		} else {
			current = hashPair(sibling, current)
		}
		idx /= 2
	}
	return current == root
}

// Validate checks the five invariants of §4.3's BAM-subsidy validation
// step: node-count ceiling, node-count/max_num_nodes agreement, claimant
// uniqueness, sum-equals-max_total_claim, and that every leaf verifies.
func (t *Tree) Validate() error {
	if t.MaxNumNodes > MaxNumNodes {
		return fmt.Errorf("merkle: max_num_nodes %d exceeds 2^32-1", t.MaxNumNodes)
	}
	if uint64(len(t.TreeNodes)) != t.MaxNumNodes {
		return fmt.Errorf("merkle: tree_nodes length %d != max_num_nodes %d", len(t.TreeNodes), t.MaxNumNodes)
	}
	seen := make(map[solana.PublicKey]struct{}, len(t.TreeNodes))
	var sum uint64
	for i, n := range t.TreeNodes {
		if _, dup := seen[n.Claimant]; dup {
			return fmt.Errorf("merkle: duplicate claimant %s", n.Claimant)
		}
		seen[n.Claimant] = struct{}{}

		newSum := sum + n.Amount
		if newSum < sum {
			return errors.New("merkle: sum overflow during validation")
		}
		sum = newSum

		if !Verify(t.Root, n.Claimant, n.Amount, n.Proof, uint64(i)) {
			return fmt.Errorf("merkle: leaf %d (%s) failed proof verification", i, n.Claimant)
		}
	}
	if sum != t.MaxTotalClaim {
		return fmt.Errorf("merkle: sum %d != max_total_claim %d", sum, t.MaxTotalClaim)
	}
	return nil
}

// RootHex returns the root as a lowercase hex string, for logging.
func (t *Tree) RootHex() string {
	return hex.EncodeToString(t.Root[:])
}
