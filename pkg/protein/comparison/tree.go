package comparison

import "strconv"

type cluster struct {
	newick string
	size   int
	height float64
}

// Tree joins the closest pair of clusters until one remains and renders
// the result as a Newick string. Cluster distances use average linkage;
// each join sits at half the joining distance, and ties go to the pair
// with the smallest indices. dist must be square and symmetric with one
// row per label.
func Tree(labels []string, dist [][]float64) string {
	switch len(labels) {
	case 0:
		return ";"
	case 1:
		return labels[0] + ";"
	}

	clusters := make([]*cluster, len(labels))
	d := make([][]float64, len(labels))
	for i, l := range labels {
		clusters[i] = &cluster{newick: l, size: 1}
		d[i] = append([]float64(nil), dist[i]...)
	}

	for len(clusters) > 1 {
		bi, bj := 0, 1
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				if d[i][j] < d[bi][bj] {
					bi, bj = i, j
				}
			}
		}
		a, b := clusters[bi], clusters[bj]
		h := d[bi][bj] / 2
		joined := &cluster{
			newick: "(" + a.newick + ":" + branch(h-a.height) + "," + b.newick + ":" + branch(h-b.height) + ")",
			size:   a.size + b.size,
			height: h,
		}

		// Row for the joined cluster, averaged by member count.
		row := make([]float64, 0, len(clusters)-1)
		for k := range clusters {
			if k == bi || k == bj {
				continue
			}
			row = append(row, (d[bi][k]*float64(a.size)+d[bj][k]*float64(b.size))/float64(joined.size))
		}

		next := make([]*cluster, 0, len(clusters)-1)
		nd := make([][]float64, 0, len(clusters)-1)
		for k := range clusters {
			if k == bi || k == bj {
				continue
			}
			next = append(next, clusters[k])
			r := make([]float64, 0, len(clusters)-1)
			for m := range clusters {
				if m != bi && m != bj {
					r = append(r, d[k][m])
				}
			}
			nd = append(nd, r)
		}
		for k := range nd {
			nd[k] = append(nd[k], row[k])
		}
		nd = append(nd, append(row, 0))
		clusters = append(next, joined)
		d = nd
	}
	return clusters[0].newick + ";"
}

func branch(v float64) string {
	return strconv.FormatFloat(max(v, 0), 'f', 4, 64)
}
